package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"miqa/internal/infra/persistence/memory"
	"miqa/pkg/domain"
)

func seedProject(t *testing.T, store *memory.Store, name string) domain.Project {
	t.Helper()
	project := domain.Project{ID: "project-" + name, Name: name, CreatedAt: time.Now().UTC()}
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateProject(project)
		return err
	}); err != nil {
		t.Fatalf("seed project %s: %v", name, err)
	}
	return project
}

func seedUser(t *testing.T, store *memory.Store, email string) domain.User {
	t.Helper()
	user := domain.User{ID: "user-" + email, Email: email}
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateUser(user)
		return err
	}); err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return user
}

func singleScanDoc(project, experiment, scan string, scanDoc ScanDoc) Document {
	return Document{Projects: map[string]ProjectDoc{
		project: {Experiments: map[string]ExperimentDoc{
			experiment: {Scans: map[string]ScanDoc{scan: scanDoc}},
		}},
	}}
}

func projectTree(t *testing.T, store *memory.Store, projectID string) (experiments []domain.Experiment, scans []domain.Scan, frames []domain.Frame, decisions []domain.Decision) {
	t.Helper()
	if err := store.View(context.Background(), func(view domain.TransactionView) error {
		experiments = view.ListExperiments(projectID)
		for _, experiment := range experiments {
			for _, scan := range view.ListScans(experiment.ID) {
				scans = append(scans, scan)
				frames = append(frames, view.ListFrames(scan.ID)...)
				decisions = append(decisions, view.ListDecisions(scan.ID)...)
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	return experiments, scans, frames, decisions
}

func TestReconcileUnknownProjectMutatesNothing(t *testing.T) {
	store := memory.NewStore()
	known := seedProject(t, store, "known")
	engine := NewEngine(store, EngineConfig{})

	// First give the known project some state.
	doc := singleScanDoc("known", "exp1", "scanA", ScanDoc{
		Type:   "T1",
		Frames: map[int]FrameDoc{0: {FileLocation: "/data/a/0.nii.gz"}},
	})
	if _, _, err := engine.Reconcile(context.Background(), doc); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	bad := Document{Projects: map[string]ProjectDoc{
		"known":   doc.Projects["known"],
		"unknown": {Experiments: map[string]ExperimentDoc{}},
	}}
	_, _, err := engine.Reconcile(context.Background(), bad)
	var notFound *ProjectNotFoundError
	if !errors.As(err, &notFound) || notFound.Name != "unknown" {
		t.Fatalf("expected project not found, got %v", err)
	}

	experiments, _, frames, _ := projectTree(t, store, known.ID)
	if len(experiments) != 1 || len(frames) != 1 {
		t.Fatalf("existing state disturbed: %d experiments, %d frames", len(experiments), len(frames))
	}
}

func TestReconcileReplacesProjectState(t *testing.T) {
	store := memory.NewStore()
	project := seedProject(t, store, "proj")
	engine := NewEngine(store, EngineConfig{})

	first := singleScanDoc("proj", "old-exp", "old-scan", ScanDoc{
		Type:   "T1",
		Frames: map[int]FrameDoc{0: {FileLocation: "/data/old/0.nii.gz"}},
	})
	if _, _, err := engine.Reconcile(context.Background(), first); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	second := singleScanDoc("proj", "new-exp", "new-scan", ScanDoc{
		Type: "T2",
		Frames: map[int]FrameDoc{
			0: {FileLocation: "/data/new/0.nii.gz"},
			1: {FileLocation: "s3://bucket/new/1.nii.gz"},
		},
	})
	counts, _, err := engine.Reconcile(context.Background(), second)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if counts.Projects != 1 || counts.Experiments != 1 || counts.Scans != 1 || counts.Frames != 2 {
		t.Fatalf("counts = %+v", counts)
	}

	experiments, scans, frames, _ := projectTree(t, store, project.ID)
	if len(experiments) != 1 || experiments[0].Name != "new-exp" {
		t.Fatalf("experiments = %+v", experiments)
	}
	if len(scans) != 1 || scans[0].Type != "T2" {
		t.Fatalf("scans = %+v", scans)
	}
	modes := map[domain.StorageMode]int{}
	for _, frame := range frames {
		modes[frame.StorageMode]++
	}
	if modes[domain.StorageLocalPath] != 1 || modes[domain.StorageS3Path] != 1 {
		t.Fatalf("storage modes = %v", modes)
	}
}

func TestReconcilePrunesBottomUp(t *testing.T) {
	store := memory.NewStore()
	project := seedProject(t, store, "proj")
	engine := NewEngine(store, EngineConfig{})

	doc := Document{Projects: map[string]ProjectDoc{
		"proj": {Experiments: map[string]ExperimentDoc{
			"kept": {Scans: map[string]ScanDoc{
				"scanA": {Type: "T1", Frames: map[int]FrameDoc{
					0: {FileLocation: "/data/a/0.nii.gz"},
					1: {FileLocation: "   "}, // skipped frame
				}},
				"empty-scan": {Type: "T1", Frames: map[int]FrameDoc{
					0: {FileLocation: ""},
				}},
			}},
			"hollow": {Scans: map[string]ScanDoc{
				"no-frames": {Type: "T1", Frames: map[int]FrameDoc{}},
			}},
		}},
	}}
	counts, _, err := engine.Reconcile(context.Background(), doc)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if counts.Experiments != 1 || counts.Scans != 1 || counts.Frames != 1 {
		t.Fatalf("counts = %+v", counts)
	}
	experiments, scans, frames, _ := projectTree(t, store, project.ID)
	if len(experiments) != 1 || experiments[0].Name != "kept" {
		t.Fatalf("experiments = %+v", experiments)
	}
	if len(scans) != 1 || scans[0].Name != "scanA" {
		t.Fatalf("scans = %+v", scans)
	}
	if len(frames) != 1 || frames[0].Number != 0 {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestReconcileDecisionLeniency(t *testing.T) {
	store := memory.NewStore()
	seedProject(t, store, "proj")
	reviewer := seedUser(t, store, "rev@example.com")
	engine := NewEngine(store, EngineConfig{})

	creator := "rev@example.com"
	stranger := "ghost@example.com"
	note := "motion; review again"
	created := "2023-06-15 12:30:00"
	artifacts := "found lesions and susceptibility_metal here"
	sliceLoc := "i=10;j=20;k=30"
	badLoc := "i=10;j=oops;k=30"
	unknownKind := "MAYBE"

	doc := Document{Projects: map[string]ProjectDoc{
		"proj": {Experiments: map[string]ExperimentDoc{
			"exp1": {Scans: map[string]ScanDoc{
				"resolved": {Type: "T1",
					Frames: map[int]FrameDoc{0: {FileLocation: "/data/a/0.nii.gz"}},
					LastDecision: &DecisionDoc{
						Decision: "GOOD", Creator: &creator, Note: &note,
						Created: &created, Artifacts: &artifacts, Location: &sliceLoc,
					},
				},
				"orphan-creator": {Type: "T1",
					Frames: map[int]FrameDoc{0: {FileLocation: "/data/b/0.nii.gz"}},
					LastDecision: &DecisionDoc{
						Decision: "BAD", Creator: &stranger, Location: &badLoc,
					},
				},
				"dropped": {Type: "T1",
					Frames:       map[int]FrameDoc{0: {FileLocation: "/data/c/0.nii.gz"}},
					LastDecision: &DecisionDoc{Decision: unknownKind},
				},
			}},
		}},
	}}

	counts, _, err := engine.Reconcile(context.Background(), doc)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if counts.Decisions != 2 || counts.DroppedDecisions != 1 || counts.UnknownCreators != 1 {
		t.Fatalf("counts = %+v", counts)
	}

	var byKind = map[domain.DecisionKind]domain.Decision{}
	_, _, _, decisions := projectTree(t, store, "project-proj")
	for _, decision := range decisions {
		byKind[decision.Kind] = decision
	}

	good := byKind[domain.DecisionGood]
	if good.CreatorID == nil || *good.CreatorID != reviewer.ID {
		t.Fatalf("creator = %v", good.CreatorID)
	}
	if good.Note != "motion, review again" {
		t.Fatalf("note = %q", good.Note)
	}
	if good.Created == nil || good.Created.Format("2006-01-02 15:04:05") != created {
		t.Fatalf("created = %v", good.Created)
	}
	if !good.Artifacts["lesions"] || !good.Artifacts["susceptibility_metal"] || good.Artifacts["ghosting_motion"] {
		t.Fatalf("artifacts = %v", good.Artifacts)
	}
	if good.Location == nil || *good.Location != (domain.SliceLocation{I: 10, J: 20, K: 30}) {
		t.Fatalf("location = %+v", good.Location)
	}

	bad := byKind[domain.DecisionBad]
	if bad.CreatorID != nil {
		t.Fatalf("unknown creator should persist as nil, got %v", *bad.CreatorID)
	}
	if bad.Location != nil {
		t.Fatalf("malformed location should drop, got %+v", bad.Location)
	}
	if bad.Created != nil {
		t.Fatalf("created should stay nil without the replace flag, got %v", bad.Created)
	}
}

func TestReconcileReplaceNullCreationTimes(t *testing.T) {
	store := memory.NewStore()
	seedProject(t, store, "proj")
	stamp := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	engine := NewEngine(store, EngineConfig{
		ReplaceNullCreationTimes: true,
		Now:                      func() time.Time { return stamp },
	})

	doc := singleScanDoc("proj", "exp1", "scanA", ScanDoc{
		Type:         "T1",
		Frames:       map[int]FrameDoc{0: {FileLocation: "/data/a/0.nii.gz"}},
		LastDecision: &DecisionDoc{Decision: "NONE"},
	})
	if _, _, err := engine.Reconcile(context.Background(), doc); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	_, _, _, decisions := projectTree(t, store, "project-proj")
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d", len(decisions))
	}
	if decisions[0].Created == nil || !decisions[0].Created.Equal(stamp) {
		t.Fatalf("created = %v, want %v", decisions[0].Created, stamp)
	}
}

func TestReconcileNotifications(t *testing.T) {
	store := memory.NewStore()
	seedProject(t, store, "proj")
	engine := NewEngine(store, EngineConfig{})

	doc := singleScanDoc("proj", "exp1", "scanA", ScanDoc{
		Type: "T1",
		Frames: map[int]FrameDoc{
			0: {FileLocation: "/data/a/0.nii.gz"},
			1: {FileLocation: "/data/a/1.nrrd"},
			2: {FileLocation: "/data/a/slide.svs"},
			3: {FileLocation: "/data/a/other.dcm"},
		},
	})
	_, notifications, err := engine.Reconcile(context.Background(), doc)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	byKind := map[NotificationKind][]Notification{}
	for _, n := range notifications {
		byKind[n.Kind] = append(byKind[n.Kind], n)
	}
	if len(byKind[NotifyConversion]) != 2 {
		t.Fatalf("conversion notifications = %d", len(byKind[NotifyConversion]))
	}
	if len(byKind[NotifyThumbnail]) != 1 {
		t.Fatalf("thumbnail notifications = %d", len(byKind[NotifyThumbnail]))
	}
	evaluations := byKind[NotifyEvaluation]
	if len(evaluations) != 1 || len(evaluations[0].FrameIDs) != 2 {
		t.Fatalf("evaluation notifications = %+v", evaluations)
	}
	if evaluations[0].ProjectID != "project-proj" {
		t.Fatalf("evaluation project = %q", evaluations[0].ProjectID)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	store := memory.NewStore()
	seedProject(t, store, "proj")
	engine := NewEngine(store, EngineConfig{})

	doc := singleScanDoc("proj", "exp1", "scanA", ScanDoc{
		Type: "T1",
		Frames: map[int]FrameDoc{
			0: {FileLocation: "/data/a/0.nii.gz"},
			1: {FileLocation: "/data/a/1.nii.gz"},
		},
	})
	first, _, err := engine.Reconcile(context.Background(), doc)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	second, _, err := engine.Reconcile(context.Background(), doc)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if first != second {
		t.Fatalf("counts diverged: %+v vs %+v", first, second)
	}
	_, _, frames, _ := projectTree(t, store, "project-proj")
	if len(frames) != 2 {
		t.Fatalf("frames = %d after repeat import", len(frames))
	}
}
