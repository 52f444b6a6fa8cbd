package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"miqa/internal/location"
	"miqa/pkg/domain"
)

// Dispatcher receives post-commit job notifications. Dispatch is
// best-effort: a notification lost after commit leaves the system valid,
// just without that downstream job.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// ServiceConfig carries the global import/export settings used when an
// operation is not pinned to a project with its own paths.
type ServiceConfig struct {
	ImportPath               string
	ExportPath               string
	ReplaceNullCreationTimes bool
}

// Service wires the codec, validator, resolver, and reconciliation engine
// into the import and export entry points.
type Service struct {
	store      domain.PersistentStore
	engine     *Engine
	reader     *location.Reader
	dispatcher Dispatcher
	cfg        ServiceConfig
	stat       StatFunc
}

// NewService constructs the ingest service. reader may carry nil backends
// when only local paths are in play; dispatcher may be nil to silently drop
// notifications (tests).
func NewService(store domain.PersistentStore, reader *location.Reader, dispatcher Dispatcher, cfg ServiceConfig) *Service {
	if reader == nil {
		reader = &location.Reader{}
	}
	return &Service{
		store:      store,
		engine:     NewEngine(store, EngineConfig{ReplaceNullCreationTimes: cfg.ReplaceNullCreationTimes}),
		reader:     reader,
		dispatcher: dispatcher,
		cfg:        cfg,
		stat:       OSStat,
	}
}

// ImportResult reports what an import persisted plus the non-fatal warnings
// collected along the way.
type ImportResult struct {
	ImportPath string   `json:"import_path"`
	Counts     Counts   `json:"counts"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ExportResult reports where an export landed.
type ExportResult struct {
	ExportPath string `json:"export_path"`
	Rows       int    `json:"rows"`
}

// Import reads the import file for the named project (or the global import
// path when projectName is empty), converts it to the canonical document,
// and reconciles it into the store. Validation happens fully before any
// mutation; warnings ride back on success.
func (s *Service) Import(ctx context.Context, projectName string) (*ImportResult, error) {
	importPath, err := s.importPath(ctx, projectName)
	if err != nil {
		return nil, err
	}

	doc, err := s.readDocument(ctx, importPath, projectName)
	if err != nil {
		return nil, err
	}

	if projectName == "" {
		if err := s.store.View(ctx, func(view domain.TransactionView) error {
			return CheckProjects(view, doc, "")
		}); err != nil {
			return nil, err
		}
	}

	warnings := ResolveFileLocations(&doc, importPath, s.stat)

	counts, notifications, err := s.engine.Reconcile(ctx, doc)
	if err != nil {
		return nil, err
	}

	// Post-commit, fire-and-forget: a failed submit degrades to a warning.
	if s.dispatcher != nil {
		for _, n := range notifications {
			if err := s.dispatcher.Notify(ctx, n); err != nil {
				warnings = append(warnings, fmt.Sprintf("could not queue %s job: %v", n.Kind, err))
			}
		}
	}

	return &ImportResult{ImportPath: importPath, Counts: counts, Warnings: warnings}, nil
}

// Export flattens the persisted hierarchy of the named project (or all
// projects) to the configured export path as CSV or JSON.
func (s *Service) Export(ctx context.Context, projectName string) (*ExportResult, error) {
	exportPath, err := s.exportPath(ctx, projectName)
	if err != nil {
		return nil, err
	}
	parent := filepath.Dir(exportPath)
	if !s.stat(parent) {
		return nil, fmt.Errorf("no such location %s to create export file", parent)
	}

	doc, err := s.BuildDocument(ctx, projectName)
	if err != nil {
		return nil, err
	}

	var payload []byte
	rows := 0
	switch {
	case strings.HasSuffix(strings.ToLower(exportPath), ".csv"):
		records := DocumentToRows(doc)
		rows = len(records) - 1
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.WriteAll(records); err != nil {
			return nil, fmt.Errorf("encode csv: %w", err)
		}
		payload = buf.Bytes()
	case strings.HasSuffix(strings.ToLower(exportPath), ".json"):
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		payload = data
	default:
		return nil, fmt.Errorf("invalid export file %s, must be CSV or JSON", exportPath)
	}

	if err := os.WriteFile(exportPath, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write export file %s: %w", exportPath, err)
	}
	return &ExportResult{ExportPath: exportPath, Rows: rows}, nil
}

// readDocument fetches the import file through its location variant and
// decodes it by extension.
func (s *Service) readDocument(ctx context.Context, importPath, targetProject string) (Document, error) {
	loc, err := location.Parse(importPath)
	if err != nil {
		return Document{}, fmt.Errorf("invalid import path: %w", err)
	}
	data, err := s.reader.ReadBytes(ctx, loc)
	if err != nil {
		return Document{}, fmt.Errorf("could not locate import file at %s: %w", importPath, err)
	}

	switch {
	case strings.HasSuffix(strings.ToLower(importPath), ".csv"):
		r := csv.NewReader(bytes.NewReader(data))
		r.FieldsPerRecord = -1
		records, err := r.ReadAll()
		if err != nil {
			return Document{}, fmt.Errorf("parse csv %s: %w", importPath, err)
		}
		return RowsToDocument(records, targetProject)
	case strings.HasSuffix(strings.ToLower(importPath), ".json"):
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return Document{}, fmt.Errorf("parse json %s: %w", importPath, err)
		}
		return ParseDocument(raw)
	default:
		return Document{}, fmt.Errorf("invalid import file %s, must be CSV or JSON", importPath)
	}
}

func (s *Service) importPath(ctx context.Context, projectName string) (string, error) {
	if projectName == "" {
		if s.cfg.ImportPath == "" {
			return "", fmt.Errorf("no import path configured")
		}
		return s.cfg.ImportPath, nil
	}
	project, err := s.findProject(ctx, projectName)
	if err != nil {
		return "", err
	}
	path := project.ImportPath
	if path == "" {
		path = s.cfg.ImportPath
	}
	if path == "" {
		return "", fmt.Errorf("project %s has no import path configured", projectName)
	}
	return path, nil
}

func (s *Service) exportPath(ctx context.Context, projectName string) (string, error) {
	if projectName == "" {
		if s.cfg.ExportPath == "" {
			return "", fmt.Errorf("no export path configured")
		}
		return s.cfg.ExportPath, nil
	}
	project, err := s.findProject(ctx, projectName)
	if err != nil {
		return "", err
	}
	path := project.ExportPath
	if path == "" {
		path = s.cfg.ExportPath
	}
	if path == "" {
		return "", fmt.Errorf("project %s has no export path configured", projectName)
	}
	return path, nil
}

func (s *Service) findProject(ctx context.Context, name string) (domain.Project, error) {
	var project domain.Project
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		record, ok := view.FindProjectByName(name)
		if !ok {
			return &ProjectNotFoundError{Name: name}
		}
		project = record
		return nil
	})
	return project, err
}

// BuildDocument reconstructs the canonical document from persisted state for
// the named project, or for every project when projectName is empty.
func (s *Service) BuildDocument(ctx context.Context, projectName string) (Document, error) {
	doc := Document{Projects: map[string]ProjectDoc{}}
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		var projects []domain.Project
		if projectName != "" {
			record, ok := view.FindProjectByName(projectName)
			if !ok {
				return &ProjectNotFoundError{Name: projectName}
			}
			projects = []domain.Project{record}
		} else {
			projects = view.ListProjects()
		}
		for _, project := range projects {
			projectDoc := ProjectDoc{Experiments: map[string]ExperimentDoc{}}
			for _, experiment := range view.ListExperiments(project.ID) {
				experimentDoc := ExperimentDoc{Scans: map[string]ScanDoc{}}
				if experiment.Note != "" {
					note := experiment.Note
					experimentDoc.Notes = &note
				}
				for _, scan := range view.ListScans(experiment.ID) {
					scanDoc := ScanDoc{
						Type:      scan.Type,
						SubjectID: scan.SubjectID,
						SessionID: scan.SessionID,
						ScanLink:  scan.ScanLink,
						Frames:    map[int]FrameDoc{},
					}
					for _, frame := range view.ListFrames(scan.ID) {
						scanDoc.Frames[frame.Number] = FrameDoc{FileLocation: frame.FileLocation}
					}
					for _, decision := range view.ListDecisions(scan.ID) {
						scanDoc.Decisions = append(scanDoc.Decisions, renderDecision(view, decision))
					}
					experimentDoc.Scans[scan.Name] = scanDoc
				}
				projectDoc.Experiments[experiment.Name] = experimentDoc
			}
			doc.Projects[project.Name] = projectDoc
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// renderDecision converts a persisted decision back to its interchange form.
func renderDecision(view domain.TransactionView, decision domain.Decision) DecisionDoc {
	doc := DecisionDoc{Decision: string(decision.Kind)}
	if decision.CreatorID != nil {
		if user, ok := view.FindUser(*decision.CreatorID); ok {
			email := user.Email
			doc.Creator = &email
		}
	}
	if decision.Note != "" {
		note := decision.Note
		doc.Note = &note
	}
	if decision.Created != nil {
		created := decision.Created.Format(decisionTimeLayout)
		doc.Created = &created
	}
	if artifacts := renderArtifacts(decision.Artifacts); artifacts != "" {
		doc.Artifacts = &artifacts
	}
	if decision.Location != nil {
		loc := fmt.Sprintf("i=%d;j=%d;k=%d", decision.Location.I, decision.Location.J, decision.Location.K)
		doc.Location = &loc
	}
	return doc
}

// renderArtifacts joins the names of set artifact flags with semicolons, in
// vocabulary order.
func renderArtifacts(flags map[string]bool) string {
	var names []string
	for _, name := range domain.ArtifactNames {
		if flags[name] {
			names = append(names, name)
		}
	}
	return strings.Join(names, ";")
}

// SetStat overrides filesystem existence checks; used by tests.
func (s *Service) SetStat(stat StatFunc) { s.stat = stat }

// SetClock overrides the reconciliation clock; used by tests.
func (s *Service) SetClock(now func() time.Time) { s.engine.cfg.Now = now }
