package ingest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ImportColumns is the fixed CSV header contract, round-trip compatible
// between import and export. The first six columns are mandatory; the
// remaining ten are optional but must appear as a contiguous suffix in this
// order.
var ImportColumns = []string{
	"project_name",
	"experiment_name",
	"scan_name",
	"scan_type",
	"frame_number",
	"file_location",
	"experiment_notes",
	"subject_id",
	"session_id",
	"scan_link",
	"last_decision",
	"last_decision_creator",
	"last_decision_note",
	"last_decision_created",
	"identified_artifacts",
	"location_of_interest",
}

const mandatoryColumns = 6

// decisionTimeLayout is the timestamp format used in exported decision rows.
const decisionTimeLayout = "2006-01-02 15:04:05"

// HeaderError is fatal and reports both the expected and received headers.
type HeaderError struct {
	Expected []string
	Received []string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("import file has invalid columns: expected %v, received %v", e.Expected, e.Received)
}

// FrameNumberError is fatal and names the value that failed integer parsing.
type FrameNumberError struct {
	Value string
}

func (e *FrameNumberError) Error() string {
	return fmt.Sprintf("invalid frame number %q, must be an integer value", e.Value)
}

// ProjectMismatchError is fatal: a row named a project other than the
// explicit import target.
type ProjectMismatchError struct {
	Row    string
	Target string
}

func (e *ProjectMismatchError) Error() string {
	return fmt.Sprintf("import file contains rows for project %q which does not match %q", e.Row, e.Target)
}

func validateHeader(header []string) error {
	if len(header) < mandatoryColumns || len(header) > len(ImportColumns) {
		return &HeaderError{Expected: ImportColumns, Received: header}
	}
	for i, name := range header {
		if name != ImportColumns[i] {
			return &HeaderError{Expected: ImportColumns, Received: header}
		}
	}
	return nil
}

// row is a record keyed by column name; trailing optional columns absent
// from the header read as "".
type row map[string]string

func (r row) get(col string) string { return r[col] }

// RowsToDocument converts CSV records (header first) into the canonical
// nested document. Grouping by project, experiment, scan, and frame is
// membership-based; ordering is restored by consumers when needed.
func RowsToDocument(records [][]string, targetProject string) (Document, error) {
	if len(records) == 0 {
		return Document{}, &HeaderError{Expected: ImportColumns, Received: nil}
	}
	if err := validateHeader(records[0]); err != nil {
		return Document{}, err
	}
	header := records[0]
	rows := make([]row, 0, len(records)-1)
	for _, record := range records[1:] {
		r := make(row, len(header))
		for i, col := range header {
			if i < len(record) {
				r[col] = record[i]
			}
		}
		rows = append(rows, r)
	}

	doc := Document{Projects: map[string]ProjectDoc{}}
	for _, r := range rows {
		projectName := r.get("project_name")
		if targetProject != "" && projectName != targetProject {
			return Document{}, &ProjectMismatchError{Row: projectName, Target: targetProject}
		}
		if _, ok := doc.Projects[projectName]; !ok {
			doc.Projects[projectName] = ProjectDoc{Experiments: map[string]ExperimentDoc{}}
		}
	}

	for projectName, project := range doc.Projects {
		projectRows := filterRows(rows, "project_name", projectName)
		if allEmpty(projectRows, "experiment_name") {
			continue
		}
		for _, experimentName := range uniqueValues(projectRows, "experiment_name") {
			experimentRows := filterRows(projectRows, "experiment_name", experimentName)
			experiment := ExperimentDoc{Scans: map[string]ScanDoc{}}
			if notes := experimentRows[0].get("experiment_notes"); notes != "" {
				experiment.Notes = &notes
			}
			for _, scanName := range uniqueValues(experimentRows, "scan_name") {
				scanRows := filterRows(experimentRows, "scan_name", scanName)
				if allEmpty(scanRows, "file_location") {
					// Header-only placeholder rows: no scan emitted.
					continue
				}
				scan, err := scanFromRows(scanRows)
				if err != nil {
					return Document{}, err
				}
				experiment.Scans[scanName] = scan
			}
			project.Experiments[experimentName] = experiment
		}
		doc.Projects[projectName] = project
	}
	return doc, nil
}

func scanFromRows(scanRows []row) (ScanDoc, error) {
	first := scanRows[0]
	scan := ScanDoc{
		Type:   first.get("scan_type"),
		Frames: make(map[int]FrameDoc, len(scanRows)),
	}
	for _, field := range []struct {
		col  string
		dest **string
	}{
		{"subject_id", &scan.SubjectID},
		{"session_id", &scan.SessionID},
		{"scan_link", &scan.ScanLink},
	} {
		if v := first.get(field.col); v != "" {
			value := v
			*field.dest = &value
		}
	}
	for _, r := range scanRows {
		raw := r.get("frame_number")
		number, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return ScanDoc{}, &FrameNumberError{Value: raw}
		}
		scan.Frames[number] = FrameDoc{FileLocation: r.get("file_location")}
	}
	if kind := first.get("last_decision"); kind != "" {
		decision := DecisionDoc{Decision: kind}
		for _, field := range []struct {
			col  string
			dest **string
		}{
			{"last_decision_creator", &decision.Creator},
			{"last_decision_note", &decision.Note},
			{"last_decision_created", &decision.Created},
			{"identified_artifacts", &decision.Artifacts},
			{"location_of_interest", &decision.Location},
		} {
			if v := first.get(field.col); v != "" {
				value := v
				*field.dest = &value
			}
		}
		scan.LastDecision = &decision
	}
	return scan, nil
}

// DocumentToRows flattens the nested document into CSV records, header
// first. One row is emitted per frame; scan, experiment, and project fields
// repeat on every row of their group. The scan's most recent decision is
// flattened onto every frame row; with no decisions the six decision cells
// are empty strings.
func DocumentToRows(doc Document) [][]string {
	records := [][]string{append([]string(nil), ImportColumns...)}
	for _, projectName := range doc.ProjectNames() {
		project := doc.Projects[projectName]
		for _, experimentName := range sortedKeys(project.Experiments) {
			experiment := project.Experiments[experimentName]
			for _, scanName := range sortedKeys(experiment.Scans) {
				scan := experiment.Scans[scanName]
				decisionCells := lastDecisionCells(scan.Decisions)
				for _, number := range sortedFrameNumbers(scan.Frames) {
					record := []string{
						projectName,
						experimentName,
						scanName,
						scan.Type,
						strconv.Itoa(number),
						scan.Frames[number].FileLocation,
						orEmpty(experiment.Notes),
						orEmpty(scan.SubjectID),
						orEmpty(scan.SessionID),
						orEmpty(scan.ScanLink),
					}
					record = append(record, decisionCells...)
					records = append(records, record)
				}
			}
		}
	}
	return records
}

// lastDecisionCells selects the decision with the latest created timestamp
// (ties keep original order) and renders the six decision columns.
func lastDecisionCells(decisions []DecisionDoc) []string {
	if len(decisions) == 0 {
		return []string{"", "", "", "", "", ""}
	}
	sorted := append([]DecisionDoc(nil), decisions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return parseDecisionTime(sorted[i].Created).After(parseDecisionTime(sorted[j].Created))
	})
	last := sorted[0]
	return []string{
		last.Decision,
		orEmpty(last.Creator),
		orEmpty(last.Note),
		orEmpty(last.Created),
		orEmpty(last.Artifacts),
		orEmpty(last.Location),
	}
}

// parseDecisionTime parses "YYYY-MM-DD HH:MM:SS" with any timezone suffix
// after '+' stripped. Unparsable values sort last.
func parseDecisionTime(created *string) time.Time {
	if created == nil {
		return time.Time{}
	}
	value := strings.TrimSpace(strings.SplitN(*created, "+", 2)[0])
	t, err := time.Parse(decisionTimeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func filterRows(rows []row, col, value string) []row {
	var out []row
	for _, r := range rows {
		if r.get(col) == value {
			out = append(out, r)
		}
	}
	return out
}

func uniqueValues(rows []row, col string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		v := r.get(col)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func allEmpty(rows []row, col string) bool {
	for _, r := range rows {
		if r.get(col) != "" {
			return false
		}
	}
	return true
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
