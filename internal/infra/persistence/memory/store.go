// Package memory provides the in-memory implementation of the persistence
// store. It owns the transaction semantics the durable backends reuse:
// clone state, mutate the clone, swap on success.
package memory

import (
	"context"
	"sort"
	"sync"

	"miqa/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

type state struct {
	users       map[string]domain.User
	projects    map[string]domain.Project
	experiments map[string]domain.Experiment
	scans       map[string]domain.Scan
	frames      map[string]domain.Frame
	decisions   map[string]domain.Decision
}

func newState() state {
	return state{
		users:       map[string]domain.User{},
		projects:    map[string]domain.Project{},
		experiments: map[string]domain.Experiment{},
		scans:       map[string]domain.Scan{},
		frames:      map[string]domain.Frame{},
		decisions:   map[string]domain.Decision{},
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.projects {
		out.projects[k] = v
	}
	for k, v := range s.experiments {
		out.experiments[k] = v
	}
	for k, v := range s.scans {
		out.scans[k] = v
	}
	for k, v := range s.frames {
		out.frames[k] = cloneFrame(v)
	}
	for k, v := range s.decisions {
		out.decisions[k] = cloneDecision(v)
	}
	return out
}

func cloneFrame(f domain.Frame) domain.Frame { return f }

func cloneDecision(d domain.Decision) domain.Decision {
	if d.Artifacts != nil {
		artifacts := make(map[string]bool, len(d.Artifacts))
		for k, v := range d.Artifacts {
			artifacts[k] = v
		}
		d.Artifacts = artifacts
	}
	if d.Location != nil {
		loc := *d.Location
		d.Location = &loc
	}
	return d
}

// Snapshot captures a point-in-time clone of the store state, serializable
// as JSON buckets by the durable backends.
type Snapshot struct {
	Users       map[string]domain.User       `json:"users"`
	Projects    map[string]domain.Project    `json:"projects"`
	Experiments map[string]domain.Experiment `json:"experiments"`
	Scans       map[string]domain.Scan       `json:"scans"`
	Frames      map[string]domain.Frame      `json:"frames"`
	Decisions   map[string]domain.Decision   `json:"decisions"`
}

// Store is the in-memory persistent store.
type Store struct {
	mu    sync.RWMutex
	state state
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// RunInTransaction clones the current state, applies fn to the clone, and
// swaps it in only when fn succeeds. A failure partway through leaves the
// previous state intact.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &transaction{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// View runs fn against a read-only view of the current state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&transaction{state: s.state})
}

// ExportState returns a deep clone of the current state for durable
// backends to persist.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.state.clone()
	return Snapshot{
		Users:       c.users,
		Projects:    c.projects,
		Experiments: c.experiments,
		Scans:       c.scans,
		Frames:      c.frames,
		Decisions:   c.decisions,
	}
}

// ImportState replaces the store state with the snapshot contents. Nil
// buckets load as empty.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := newState()
	for k, v := range snapshot.Users {
		next.users[k] = v
	}
	for k, v := range snapshot.Projects {
		next.projects[k] = v
	}
	for k, v := range snapshot.Experiments {
		next.experiments[k] = v
	}
	for k, v := range snapshot.Scans {
		next.scans[k] = v
	}
	for k, v := range snapshot.Frames {
		next.frames[k] = v
	}
	for k, v := range snapshot.Decisions {
		next.decisions[k] = cloneDecision(v)
	}
	s.state = next
}

type transaction struct {
	state state
}

var _ domain.Transaction = (*transaction)(nil)

func (t *transaction) FindProjectByName(name string) (domain.Project, bool) {
	for _, p := range t.state.projects {
		if p.Name == name {
			return p, true
		}
	}
	return domain.Project{}, false
}

func (t *transaction) FindUserByEmail(email string) (domain.User, bool) {
	for _, u := range t.state.users {
		if u.Email == email {
			return u, true
		}
	}
	return domain.User{}, false
}

func (t *transaction) FindUser(id string) (domain.User, bool) {
	u, ok := t.state.users[id]
	return u, ok
}

func (t *transaction) ListProjects() []domain.Project {
	out := make([]domain.Project, 0, len(t.state.projects))
	for _, p := range t.state.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *transaction) ListExperiments(projectID string) []domain.Experiment {
	var out []domain.Experiment
	for _, e := range t.state.experiments {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *transaction) ListScans(experimentID string) []domain.Scan {
	var out []domain.Scan
	for _, s := range t.state.scans {
		if s.ExperimentID == experimentID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *transaction) ListFrames(scanID string) []domain.Frame {
	var out []domain.Frame
	for _, f := range t.state.frames {
		if f.ScanID == scanID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (t *transaction) ListDecisions(scanID string) []domain.Decision {
	var out []domain.Decision
	for _, d := range t.state.decisions {
		if d.ScanID == scanID {
			out = append(out, cloneDecision(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i], out[j]
		switch {
		case di.Created == nil:
			return false
		case dj.Created == nil:
			return true
		default:
			return di.Created.Before(*dj.Created)
		}
	})
	return out
}

func (t *transaction) CreateUser(user domain.User) (domain.User, error) {
	t.state.users[user.ID] = user
	return user, nil
}

func (t *transaction) CreateProject(project domain.Project) (domain.Project, error) {
	t.state.projects[project.ID] = project
	return project, nil
}

func (t *transaction) DeleteProjectExperiments(projectID string) int {
	removed := 0
	for id, experiment := range t.state.experiments {
		if experiment.ProjectID != projectID {
			continue
		}
		for scanID, scan := range t.state.scans {
			if scan.ExperimentID != id {
				continue
			}
			for frameID, frame := range t.state.frames {
				if frame.ScanID == scanID {
					delete(t.state.frames, frameID)
				}
			}
			for decisionID, decision := range t.state.decisions {
				if decision.ScanID == scanID {
					delete(t.state.decisions, decisionID)
				}
			}
			delete(t.state.scans, scanID)
		}
		delete(t.state.experiments, id)
		removed++
	}
	return removed
}

func (t *transaction) CreateExperiments(experiments []domain.Experiment) error {
	for _, e := range experiments {
		t.state.experiments[e.ID] = e
	}
	return nil
}

func (t *transaction) CreateScans(scans []domain.Scan) error {
	for _, s := range scans {
		t.state.scans[s.ID] = s
	}
	return nil
}

func (t *transaction) CreateFrames(frames []domain.Frame) error {
	for _, f := range frames {
		t.state.frames[f.ID] = f
	}
	return nil
}

func (t *transaction) CreateDecisions(decisions []domain.Decision) error {
	for _, d := range decisions {
		t.state.decisions[d.ID] = cloneDecision(d)
	}
	return nil
}
