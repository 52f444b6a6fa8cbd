package domain

import "context"

// Transaction exposes the mutations a persistence implementation must
// support within an atomic scope. Import reconciliation only ever performs a
// cascading delete followed by bulk creates, so the surface stays narrow.
type Transaction interface {
	TransactionView

	CreateUser(User) (User, error)
	CreateProject(Project) (Project, error)
	// DeleteProjectExperiments removes every experiment under the project,
	// cascading to scans, frames, and decisions. Returns the number of
	// experiments removed.
	DeleteProjectExperiments(projectID string) int
	CreateExperiments([]Experiment) error
	CreateScans([]Scan) error
	CreateFrames([]Frame) error
	CreateDecisions([]Decision) error
}

// TransactionView provides read-only access to persisted state.
type TransactionView interface {
	FindProjectByName(name string) (Project, bool)
	FindUserByEmail(email string) (User, bool)
	FindUser(id string) (User, bool)
	ListProjects() []Project
	ListExperiments(projectID string) []Experiment
	ListScans(experimentID string) []Scan
	ListFrames(scanID string) []Frame
	ListDecisions(scanID string) []Decision
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(TransactionView) error) error
}

// ProjectSerializer is an optional capability of stores that can serialize
// transactions touching the same project across processes (e.g. via a
// Postgres advisory lock). Single-process callers fall back to in-process
// locking when a store does not implement it.
type ProjectSerializer interface {
	RunInProjectTransaction(ctx context.Context, projectName string, fn func(Transaction) error) error
}
