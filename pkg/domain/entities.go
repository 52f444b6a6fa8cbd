// Package domain defines the persisted entities and persistence contracts
// for the miqa imaging-review schema.
package domain

import "time"

// EntityType identifies the type of record stored in a persistence bucket.
type EntityType string

const (
	// EntityUser identifies a reviewer account record.
	EntityUser EntityType = "user"
	// EntityProject identifies a project record.
	EntityProject EntityType = "project"
	// EntityExperiment identifies an experiment record.
	EntityExperiment EntityType = "experiment"
	// EntityScan identifies a scan record.
	EntityScan EntityType = "scan"
	// EntityFrame identifies a frame record.
	EntityFrame EntityType = "frame"
	// EntityDecision identifies a review decision record.
	EntityDecision EntityType = "decision"
)

// DecisionKind is a reviewer's quality judgment on a scan.
type DecisionKind string

const (
	DecisionNone        DecisionKind = "NONE"
	DecisionGood        DecisionKind = "GOOD"
	DecisionBad         DecisionKind = "BAD"
	DecisionUsableExtra DecisionKind = "USABLE_EXTRA"
)

// KnownDecisionKinds is the closed set of accepted decision values. Decisions
// carrying any other value are dropped during import rather than persisted.
var KnownDecisionKinds = []DecisionKind{
	DecisionNone,
	DecisionGood,
	DecisionBad,
	DecisionUsableExtra,
}

// IsKnownDecisionKind reports whether kind belongs to the closed decision set.
func IsKnownDecisionKind(kind DecisionKind) bool {
	for _, k := range KnownDecisionKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ArtifactNames is the fixed vocabulary of artifact flags a reviewer can
// identify on a scan. Unknown names in input are ignored; missing names
// default to false.
var ArtifactNames = []string{
	"flow_artifact",
	"truncation_artifact",
	"ghosting_motion",
	"inhomogeneity",
	"swap_wraparound",
	"lesions",
	"full_brain_coverage",
	"misalignment",
	"susceptibility_metal",
	"partial_brain_coverage",
	"normal_variants",
}

// DefaultArtifacts returns the artifact flag map with every known name false.
func DefaultArtifacts() map[string]bool {
	out := make(map[string]bool, len(ArtifactNames))
	for _, name := range ArtifactNames {
		out[name] = false
	}
	return out
}

// StorageMode records where a frame's bytes live.
type StorageMode string

const (
	StorageLocalPath StorageMode = "local_path"
	StorageS3Path    StorageMode = "s3_path"
	StorageBlob      StorageMode = "content_storage"
)

// User is a reviewer account resolved by email during import.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Project is the top-level grouping. Projects are never created by import; a
// referenced project must already exist.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ImportPath string    `json:"import_path,omitempty"`
	ExportPath string    `json:"export_path,omitempty"`
	S3Public   bool      `json:"s3_public,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Experiment is a named grouping of scans belonging to one project.
type Experiment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Scan is a named imaging acquisition grouping one or more frames.
type Scan struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	SubjectID    *string   `json:"subject_id,omitempty"`
	SessionID    *string   `json:"session_id,omitempty"`
	ScanLink     *string   `json:"scan_link,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Frame is a single file belonging to a scan, numbered within that scan.
type Frame struct {
	ID           string      `json:"id"`
	ScanID       string      `json:"scan_id"`
	Number       int         `json:"number"`
	FileLocation string      `json:"file_location"`
	StorageMode  StorageMode `json:"storage_mode"`
	CreatedAt    time.Time   `json:"created_at"`
}

// SliceLocation is the i/j/k slice position a decision refers to.
type SliceLocation struct {
	I int `json:"i"`
	J int `json:"j"`
	K int `json:"k"`
}

// Decision is a reviewer's judgment on a scan. CreatorID is nil when the
// importing file named a reviewer this deployment does not know.
type Decision struct {
	ID        string          `json:"id"`
	ScanID    string          `json:"scan_id"`
	Kind      DecisionKind    `json:"kind"`
	CreatorID *string         `json:"creator_id,omitempty"`
	Note      string          `json:"note,omitempty"`
	Created   *time.Time      `json:"created,omitempty"`
	Artifacts map[string]bool `json:"artifacts"`
	Location  *SliceLocation  `json:"location,omitempty"`
}
