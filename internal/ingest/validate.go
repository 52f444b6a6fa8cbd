package ingest

import (
	"fmt"
	"sort"
	"strconv"

	"miqa/pkg/domain"
)

// ValidationError reports the first structural violation found in an import
// document.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid import document at %s: %s", e.Path, e.Reason)
}

func violation(path, format string, args ...any) error {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// ParseDocument validates a decoded JSON value against the expected nested
// shape and returns the typed document. Validation stops at the first
// violation. No side effects beyond validation.
func ParseDocument(raw any) (Document, error) {
	root, ok := raw.(map[string]any)
	if !ok {
		return Document{}, violation("$", "expected object, got %T", raw)
	}
	projectsRaw, ok := root["projects"]
	if !ok {
		return Document{}, violation("$", "missing key %q", "projects")
	}
	projects, ok := projectsRaw.(map[string]any)
	if !ok {
		return Document{}, violation("projects", "expected object, got %T", projectsRaw)
	}
	doc := Document{Projects: make(map[string]ProjectDoc, len(projects))}
	for _, name := range sortedRawKeys(projects) {
		project, err := parseProject(fmt.Sprintf("projects.%s", name), projects[name])
		if err != nil {
			return Document{}, err
		}
		doc.Projects[name] = project
	}
	return doc, nil
}

func parseProject(path string, raw any) (ProjectDoc, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return ProjectDoc{}, violation(path, "expected object, got %T", raw)
	}
	expsRaw, ok := obj["experiments"]
	if !ok {
		return ProjectDoc{}, violation(path, "missing key %q", "experiments")
	}
	exps, ok := expsRaw.(map[string]any)
	if !ok {
		return ProjectDoc{}, violation(path+".experiments", "expected object, got %T", expsRaw)
	}
	project := ProjectDoc{Experiments: make(map[string]ExperimentDoc, len(exps))}
	for _, name := range sortedRawKeys(exps) {
		exp, err := parseExperiment(fmt.Sprintf("%s.experiments.%s", path, name), exps[name])
		if err != nil {
			return ProjectDoc{}, err
		}
		project.Experiments[name] = exp
	}
	return project, nil
}

func parseExperiment(path string, raw any) (ExperimentDoc, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return ExperimentDoc{}, violation(path, "expected object, got %T", raw)
	}
	exp := ExperimentDoc{}
	if notesRaw, ok := obj["notes"]; ok && notesRaw != nil {
		notes, ok := notesRaw.(string)
		if !ok {
			return ExperimentDoc{}, violation(path+".notes", "expected string or null, got %T", notesRaw)
		}
		exp.Notes = &notes
	}
	scansRaw, ok := obj["scans"]
	if !ok {
		return ExperimentDoc{}, violation(path, "missing key %q", "scans")
	}
	scans, ok := scansRaw.(map[string]any)
	if !ok {
		return ExperimentDoc{}, violation(path+".scans", "expected object, got %T", scansRaw)
	}
	exp.Scans = make(map[string]ScanDoc, len(scans))
	for _, name := range sortedRawKeys(scans) {
		scan, err := parseScan(fmt.Sprintf("%s.scans.%s", path, name), scans[name])
		if err != nil {
			return ExperimentDoc{}, err
		}
		exp.Scans[name] = scan
	}
	return exp, nil
}

func parseScan(path string, raw any) (ScanDoc, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return ScanDoc{}, violation(path, "expected object, got %T", raw)
	}
	typeRaw, ok := obj["type"]
	if !ok {
		return ScanDoc{}, violation(path, "missing key %q", "type")
	}
	scan := ScanDoc{Type: coerceString(typeRaw)}

	for _, field := range []struct {
		key  string
		dest **string
	}{
		{"subject_id", &scan.SubjectID},
		{"session_id", &scan.SessionID},
		{"scan_link", &scan.ScanLink},
	} {
		v, ok := obj[field.key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return ScanDoc{}, violation(path+"."+field.key, "expected string or null, got %T", v)
		}
		*field.dest = &s
	}

	framesRaw, ok := obj["frames"]
	if !ok {
		return ScanDoc{}, violation(path, "missing key %q", "frames")
	}
	frames, ok := framesRaw.(map[string]any)
	if !ok {
		return ScanDoc{}, violation(path+".frames", "expected object, got %T", framesRaw)
	}
	scan.Frames = make(map[int]FrameDoc, len(frames))
	for _, key := range sortedRawKeys(frames) {
		number, err := strconv.Atoi(key)
		if err != nil {
			return ScanDoc{}, violation(path+".frames", "invalid frame number %q, must be an integer value", key)
		}
		frame, err := parseFrame(fmt.Sprintf("%s.frames.%s", path, key), frames[key])
		if err != nil {
			return ScanDoc{}, err
		}
		scan.Frames[number] = frame
	}

	if decisionsRaw, ok := obj["decisions"]; ok && decisionsRaw != nil {
		list, ok := decisionsRaw.([]any)
		if !ok {
			return ScanDoc{}, violation(path+".decisions", "expected array, got %T", decisionsRaw)
		}
		for i, item := range list {
			decision, err := parseDecision(fmt.Sprintf("%s.decisions[%d]", path, i), item)
			if err != nil {
				return ScanDoc{}, err
			}
			scan.Decisions = append(scan.Decisions, decision)
		}
	}
	if lastRaw, ok := obj["last_decision"]; ok && lastRaw != nil {
		decision, err := parseDecision(path+".last_decision", lastRaw)
		if err != nil {
			return ScanDoc{}, err
		}
		scan.LastDecision = &decision
	}
	return scan, nil
}

func parseFrame(path string, raw any) (FrameDoc, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return FrameDoc{}, violation(path, "expected object, got %T", raw)
	}
	loc, ok := obj["file_location"]
	if !ok {
		return FrameDoc{}, violation(path, "missing key %q", "file_location")
	}
	return FrameDoc{FileLocation: coerceString(loc)}, nil
}

func parseDecision(path string, raw any) (DecisionDoc, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return DecisionDoc{}, violation(path, "expected object, got %T", raw)
	}
	kindRaw, ok := obj["decision"]
	if !ok {
		return DecisionDoc{}, violation(path, "missing key %q", "decision")
	}
	decision := DecisionDoc{Decision: coerceString(kindRaw)}
	for _, field := range []struct {
		key  string
		dest **string
	}{
		{"creator", &decision.Creator},
		{"note", &decision.Note},
		{"created", &decision.Created},
		{"user_identified_artifacts", &decision.Artifacts},
		{"location", &decision.Location},
	} {
		v, ok := obj[field.key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return DecisionDoc{}, violation(path+"."+field.key, "expected string or null, got %T", v)
		}
		*field.dest = &s
	}
	return decision, nil
}

// CheckProjects verifies that every project named by the document exists.
// When targetProject is set the codec has already pinned row project names,
// so only the target itself is checked.
func CheckProjects(view domain.TransactionView, doc Document, targetProject string) error {
	if targetProject != "" {
		if _, ok := view.FindProjectByName(targetProject); !ok {
			return &ProjectNotFoundError{Name: targetProject}
		}
		return nil
	}
	for _, name := range doc.ProjectNames() {
		if _, ok := view.FindProjectByName(name); !ok {
			return &ProjectNotFoundError{Name: name}
		}
	}
	return nil
}

// ProjectNotFoundError is fatal: import never creates projects.
type ProjectNotFoundError struct {
	Name string
}

func (e *ProjectNotFoundError) Error() string {
	return fmt.Sprintf("project %s does not exist", e.Name)
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; integral values keep their
		// integer rendering.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func sortedRawKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
