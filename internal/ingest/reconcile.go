package ingest

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"miqa/internal/location"
	"miqa/pkg/domain"
)

// Volumetric frame formats are queued for format conversion after commit;
// whole-slide-image formats are queued for thumbnail generation.
var (
	volumetricExtensions = []string{".nii.gz", ".nii", ".nrrd", ".mgz"}
	wsiExtensions        = []string{".svs", ".tif"}
)

// NotificationKind labels a post-commit job notification.
type NotificationKind string

const (
	NotifyConversion NotificationKind = "frame_conversion"
	NotifyThumbnail  NotificationKind = "wsi_thumbnail"
	NotifyEvaluation NotificationKind = "evaluation"
)

// Notification is a fire-and-forget job request produced by reconciliation.
// The engine never dispatches jobs itself; the caller hands notifications to
// the dispatch façade only after the owning transaction has committed.
type Notification struct {
	Kind      NotificationKind
	ProjectID string
	FrameIDs  []string
}

// Counts summarizes what a reconciliation persisted and what it tolerated.
type Counts struct {
	Projects         int
	Experiments      int
	Scans            int
	Frames           int
	Decisions        int
	DroppedDecisions int
	UnknownCreators  int
}

func (c *Counts) add(other Counts) {
	c.Projects += other.Projects
	c.Experiments += other.Experiments
	c.Scans += other.Scans
	c.Frames += other.Frames
	c.Decisions += other.Decisions
	c.DroppedDecisions += other.DroppedDecisions
	c.UnknownCreators += other.UnknownCreators
}

// EngineConfig carries the reconciliation feature flags. No ambient global
// state: the caller constructs and passes it explicitly.
type EngineConfig struct {
	// ReplaceNullCreationTimes stamps the import time onto decisions whose
	// created timestamp is absent or unparsable.
	ReplaceNullCreationTimes bool
	// Now is the import clock; defaults to time.Now.
	Now func() time.Time
}

// Engine replaces the persisted state of each project named by a document
// with the document's hierarchy. Each project commits independently so one
// bad project bounds its own blast radius, but project existence for the
// whole document is verified before any mutation.
type Engine struct {
	store domain.PersistentStore
	cfg   EngineConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine constructs a reconciliation engine over the given store.
func NewEngine(store domain.PersistentStore, cfg EngineConfig) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{store: store, cfg: cfg, locks: make(map[string]*sync.Mutex)}
}

// projectLock returns the per-project mutex serializing same-project
// reconciliations within this process. The delete-then-bulk-insert sequence
// is not safe under concurrent execution on one project.
func (e *Engine) projectLock(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[name] = lock
	}
	return lock
}

// Reconcile validates that every referenced project exists, then replaces
// each project's hierarchy concurrently (distinct projects only). Returned
// notifications cover only projects whose transaction committed.
func (e *Engine) Reconcile(ctx context.Context, doc Document) (Counts, []Notification, error) {
	if err := e.store.View(ctx, func(view domain.TransactionView) error {
		for _, name := range doc.ProjectNames() {
			if _, ok := view.FindProjectByName(name); !ok {
				return &ProjectNotFoundError{Name: name}
			}
		}
		return nil
	}); err != nil {
		return Counts{}, nil, err
	}

	var (
		total         Counts
		notifications []Notification
		aggMu         sync.Mutex
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range doc.ProjectNames() {
		name := name
		project := doc.Projects[name]
		group.Go(func() error {
			counts, notes, err := e.ReconcileProject(groupCtx, name, project)
			if err != nil {
				return err
			}
			aggMu.Lock()
			total.add(counts)
			notifications = append(notifications, notes...)
			aggMu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return total, notifications, err
	}
	return total, notifications, nil
}

// ReconcileProject atomically replaces one project's experiment tree.
func (e *Engine) ReconcileProject(ctx context.Context, name string, project ProjectDoc) (Counts, []Notification, error) {
	lock := e.projectLock(name)
	lock.Lock()
	defer lock.Unlock()

	var (
		counts        Counts
		notifications []Notification
	)
	apply := func(tx domain.Transaction) error {
		counts = Counts{}
		notifications = nil
		record, ok := tx.FindProjectByName(name)
		if !ok {
			return &ProjectNotFoundError{Name: name}
		}
		tx.DeleteProjectExperiments(record.ID)

		plan := e.materialize(tx, record, project, &counts)
		if err := tx.CreateExperiments(plan.experiments); err != nil {
			return err
		}
		if err := tx.CreateScans(plan.scans); err != nil {
			return err
		}
		if err := tx.CreateFrames(plan.frames); err != nil {
			return err
		}
		if err := tx.CreateDecisions(plan.decisions); err != nil {
			return err
		}
		counts.Projects = 1
		counts.Experiments = len(plan.experiments)
		counts.Scans = len(plan.scans)
		counts.Frames = len(plan.frames)
		counts.Decisions = len(plan.decisions)
		notifications = plan.notifications(record.ID)
		return nil
	}

	// Stores that can serialize same-project writes across processes do so
	// via an advisory lock; others rely on the in-process lock above.
	var err error
	if serializer, ok := e.store.(domain.ProjectSerializer); ok {
		err = serializer.RunInProjectTransaction(ctx, name, apply)
	} else {
		err = e.store.RunInTransaction(ctx, apply)
	}
	if err != nil {
		return Counts{}, nil, err
	}
	return counts, notifications, nil
}

type reconcilePlan struct {
	experiments      []domain.Experiment
	scans            []domain.Scan
	frames           []domain.Frame
	decisions        []domain.Decision
	volumetricFrames []string
	wsiFrames        []string
}

// notifications emits one conversion request per volumetric frame, one
// thumbnail request per whole-slide frame, and a single evaluation job over
// the project's new volumetric frames.
func (p *reconcilePlan) notifications(projectID string) []Notification {
	var out []Notification
	for _, id := range p.volumetricFrames {
		out = append(out, Notification{Kind: NotifyConversion, ProjectID: projectID, FrameIDs: []string{id}})
	}
	for _, id := range p.wsiFrames {
		out = append(out, Notification{Kind: NotifyThumbnail, ProjectID: projectID, FrameIDs: []string{id}})
	}
	if len(p.volumetricFrames) > 0 {
		out = append(out, Notification{Kind: NotifyEvaluation, ProjectID: projectID, FrameIDs: p.volumetricFrames})
	}
	return out
}

// materialize builds the new records bottom-up so pruning happens before
// insertion: frames with empty file locations are skipped, scans without
// frames are dropped, experiments without surviving scans are dropped.
func (e *Engine) materialize(tx domain.Transaction, project domain.Project, doc ProjectDoc, counts *Counts) reconcilePlan {
	now := e.cfg.Now()
	plan := reconcilePlan{}
	for _, experimentName := range sortedKeys(doc.Experiments) {
		experimentDoc := doc.Experiments[experimentName]
		experiment := domain.Experiment{
			ID:        uuid.NewString(),
			ProjectID: project.ID,
			Name:      experimentName,
			Note:      orEmpty(experimentDoc.Notes),
			CreatedAt: now,
		}
		var experimentScans []domain.Scan
		var experimentFrames []domain.Frame
		var experimentDecisions []domain.Decision
		for _, scanName := range sortedKeys(experimentDoc.Scans) {
			scanDoc := experimentDoc.Scans[scanName]
			scan := domain.Scan{
				ID:           uuid.NewString(),
				ExperimentID: experiment.ID,
				Name:         scanName,
				Type:         scanDoc.Type,
				SubjectID:    scanDoc.SubjectID,
				SessionID:    scanDoc.SessionID,
				ScanLink:     scanDoc.ScanLink,
				CreatedAt:    now,
			}
			var frames []domain.Frame
			for _, number := range sortedFrameNumbers(scanDoc.Frames) {
				frameDoc := scanDoc.Frames[number]
				if strings.TrimSpace(frameDoc.FileLocation) == "" {
					continue
				}
				frames = append(frames, domain.Frame{
					ID:           uuid.NewString(),
					ScanID:       scan.ID,
					Number:       number,
					FileLocation: frameDoc.FileLocation,
					StorageMode:  storageModeOf(frameDoc.FileLocation),
					CreatedAt:    now,
				})
			}
			if len(frames) == 0 {
				continue
			}
			if scanDoc.LastDecision != nil {
				if decision, ok := e.resolveDecision(tx, scan.ID, *scanDoc.LastDecision, counts); ok {
					experimentDecisions = append(experimentDecisions, decision)
				}
			}
			experimentScans = append(experimentScans, scan)
			experimentFrames = append(experimentFrames, frames...)
			for _, frame := range frames {
				switch {
				case hasAnySuffix(frame.FileLocation, volumetricExtensions):
					plan.volumetricFrames = append(plan.volumetricFrames, frame.ID)
				case hasAnySuffix(frame.FileLocation, wsiExtensions):
					plan.wsiFrames = append(plan.wsiFrames, frame.ID)
				}
			}
		}
		if len(experimentScans) == 0 {
			continue
		}
		plan.experiments = append(plan.experiments, experiment)
		plan.scans = append(plan.scans, experimentScans...)
		plan.frames = append(plan.frames, experimentFrames...)
		plan.decisions = append(plan.decisions, experimentDecisions...)
	}
	return plan
}

// resolveDecision builds the single persisted decision for a scan. Unknown
// decision kinds drop the record; every other per-field issue degrades
// instead of failing the import.
func (e *Engine) resolveDecision(tx domain.Transaction, scanID string, doc DecisionDoc, counts *Counts) (domain.Decision, bool) {
	kind := domain.DecisionKind(strings.TrimSpace(doc.Decision))
	if kind == "" || !domain.IsKnownDecisionKind(kind) {
		counts.DroppedDecisions++
		return domain.Decision{}, false
	}

	decision := domain.Decision{
		ID:        uuid.NewString(),
		ScanID:    scanID,
		Kind:      kind,
		Artifacts: domain.DefaultArtifacts(),
	}

	if doc.Creator != nil && *doc.Creator != "" {
		if user, ok := tx.FindUserByEmail(*doc.Creator); ok {
			decision.CreatorID = &user.ID
		} else {
			counts.UnknownCreators++
		}
	}

	if doc.Note != nil {
		// Semicolons are reserved as the artifact/location delimiter.
		decision.Note = strings.ReplaceAll(*doc.Note, ";", ",")
	}

	if doc.Created != nil && *doc.Created != "" {
		if parsed, err := dateparse.ParseAny(*doc.Created); err == nil {
			decision.Created = &parsed
		}
	}
	if decision.Created == nil && e.cfg.ReplaceNullCreationTimes {
		now := e.cfg.Now()
		decision.Created = &now
	}

	if doc.Artifacts != nil {
		for _, name := range domain.ArtifactNames {
			if strings.Contains(*doc.Artifacts, name) {
				decision.Artifacts[name] = true
			}
		}
	}

	if doc.Location != nil {
		decision.Location = parseSliceLocation(*doc.Location)
	}
	return decision, true
}

// parseSliceLocation decodes "i=<v>;j=<v>;k=<v>". Malformed encodings are
// dropped rather than failing the import.
func parseSliceLocation(value string) *domain.SliceLocation {
	parts := strings.Split(value, ";")
	if len(parts) != 3 {
		return nil
	}
	axes := make([]int, 3)
	for i, part := range parts {
		_, raw, ok := strings.Cut(part, "=")
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil
		}
		axes[i] = n
	}
	return &domain.SliceLocation{I: axes[0], J: axes[1], K: axes[2]}
}

func storageModeOf(fileLocation string) domain.StorageMode {
	loc, err := location.Parse(fileLocation)
	if err != nil {
		return domain.StorageLocalPath
	}
	switch loc.Kind {
	case location.KindS3:
		return domain.StorageS3Path
	case location.KindBlob:
		return domain.StorageBlob
	default:
		return domain.StorageLocalPath
	}
}

func hasAnySuffix(path string, suffixes []string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range suffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
