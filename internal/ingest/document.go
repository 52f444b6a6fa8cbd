// Package ingest implements the import/export reconciliation core: the
// canonical nested document, its schema validation, file-location
// resolution, the tabular codec, and the destructive per-project
// reconciliation engine.
package ingest

import "sort"

// Document is the canonical interchange form of an import or export. It is
// constructed fresh per call and discarded after reconciliation; persisted
// entities live in pkg/domain.
type Document struct {
	Projects map[string]ProjectDoc `json:"projects"`
}

// ProjectDoc groups experiments under a named project.
type ProjectDoc struct {
	Experiments map[string]ExperimentDoc `json:"experiments"`
}

// ExperimentDoc groups scans under a named experiment.
type ExperimentDoc struct {
	Notes *string            `json:"notes,omitempty"`
	Scans map[string]ScanDoc `json:"scans"`
}

// ScanDoc describes one acquisition. Frames are keyed by frame number;
// non-integer keys are rejected during validation.
type ScanDoc struct {
	Type         string           `json:"type"`
	SubjectID    *string          `json:"subject_id,omitempty"`
	SessionID    *string          `json:"session_id,omitempty"`
	ScanLink     *string          `json:"scan_link,omitempty"`
	Frames       map[int]FrameDoc `json:"frames"`
	Decisions    []DecisionDoc    `json:"decisions,omitempty"`
	LastDecision *DecisionDoc     `json:"last_decision,omitempty"`
}

// FrameDoc carries the only required frame attribute.
type FrameDoc struct {
	FileLocation string `json:"file_location"`
}

// DecisionDoc is the interchange form of a review decision. All fields but
// Decision are nullable; Artifacts is a semicolon-delimited list of artifact
// names and Location is encoded as "i=..;j=..;k=..".
type DecisionDoc struct {
	Decision  string  `json:"decision"`
	Creator   *string `json:"creator"`
	Note      *string `json:"note"`
	Created   *string `json:"created"`
	Artifacts *string `json:"user_identified_artifacts"`
	Location  *string `json:"location"`
}

// ProjectNames returns the document's project names sorted ascending.
func (d Document) ProjectNames() []string {
	names := make([]string, 0, len(d.Projects))
	for name := range d.Projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFrameNumbers(frames map[int]FrameDoc) []int {
	nums := make([]int, 0, len(frames))
	for n := range frames {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
