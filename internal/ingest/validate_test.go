package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"miqa/internal/infra/persistence/memory"
	"miqa/pkg/domain"
)

func decode(t *testing.T, payload string) any {
	t.Helper()
	var raw any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return raw
}

func TestParseDocument(t *testing.T) {
	raw := decode(t, `{
		"projects": {
			"proj": {
				"experiments": {
					"exp1": {
						"notes": "long scan",
						"scans": {
							"scanA": {
								"type": "T1",
								"subject_id": "subj-1",
								"frames": {
									"0": {"file_location": "a/0.nii.gz"},
									"1": {"file_location": "a/1.nii.gz"}
								},
								"last_decision": {
									"decision": "USABLE_EXTRA",
									"creator": "rev@example.com",
									"note": "ok",
									"created": "2023-06-15 12:30:00",
									"user_identified_artifacts": "lesions;susceptibility_metal",
									"location": "i=1;j=2;k=3"
								}
							}
						}
					}
				}
			}
		}
	}`)
	doc, err := ParseDocument(raw)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	scan := doc.Projects["proj"].Experiments["exp1"].Scans["scanA"]
	if scan.Type != "T1" {
		t.Fatalf("type = %q", scan.Type)
	}
	if len(scan.Frames) != 2 || scan.Frames[1].FileLocation != "a/1.nii.gz" {
		t.Fatalf("frames = %+v", scan.Frames)
	}
	if scan.LastDecision == nil || scan.LastDecision.Decision != "USABLE_EXTRA" {
		t.Fatalf("last decision = %+v", scan.LastDecision)
	}
	if scan.LastDecision.Artifacts == nil || !strings.Contains(*scan.LastDecision.Artifacts, "lesions") {
		t.Fatalf("artifacts = %v", scan.LastDecision.Artifacts)
	}
}

func TestParseDocumentViolations(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		path    string
	}{
		{"root not object", `[1,2]`, "$"},
		{"missing projects", `{}`, "$"},
		{"project not object", `{"projects": {"p": 7}}`, "projects.p"},
		{"missing experiments", `{"projects": {"p": {}}}`, "projects.p"},
		{"missing scans", `{"projects": {"p": {"experiments": {"e": {}}}}}`, "projects.p.experiments.e"},
		{"missing type", `{"projects": {"p": {"experiments": {"e": {"scans": {"s": {"frames": {}}}}}}}}`, "projects.p.experiments.e.scans.s"},
		{
			"missing file_location",
			`{"projects": {"p": {"experiments": {"e": {"scans": {"s": {"type": "T1", "frames": {"0": {}}}}}}}}}`,
			"projects.p.experiments.e.scans.s.frames.0",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDocument(decode(t, tc.payload))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Path != tc.path {
				t.Fatalf("path = %q, want %q", verr.Path, tc.path)
			}
		})
	}
}

func TestParseDocumentBadFrameKey(t *testing.T) {
	raw := decode(t, `{"projects": {"p": {"experiments": {"e": {"scans": {"s": {
		"type": "T1",
		"frames": {"abc": {"file_location": "a/0.nii.gz"}}
	}}}}}}}`)
	_, err := ParseDocument(raw)
	if err == nil || !strings.Contains(err.Error(), `invalid frame number "abc", must be an integer value`) {
		t.Fatalf("error = %v", err)
	}
}

func TestParseDocumentCoercesNumbers(t *testing.T) {
	raw := decode(t, `{"projects": {"p": {"experiments": {"e": {"scans": {"s": {
		"type": 3,
		"frames": {"0": {"file_location": "a/0.nii.gz"}}
	}}}}}}}`)
	doc, err := ParseDocument(raw)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if got := doc.Projects["p"].Experiments["e"].Scans["s"].Type; got != "3" {
		t.Fatalf("type = %q, want \"3\"", got)
	}
}

func TestCheckProjects(t *testing.T) {
	store := memory.NewStore()
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateProject(domain.Project{ID: "p1", Name: "known"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	doc := Document{Projects: map[string]ProjectDoc{"known": {}, "unknown": {}}}
	err := store.View(context.Background(), func(view domain.TransactionView) error {
		return CheckProjects(view, doc, "")
	})
	var notFound *ProjectNotFoundError
	if !errors.As(err, &notFound) || notFound.Name != "unknown" {
		t.Fatalf("expected unknown project error, got %v", err)
	}

	if err := store.View(context.Background(), func(view domain.TransactionView) error {
		return CheckProjects(view, Document{}, "known")
	}); err != nil {
		t.Fatalf("target check: %v", err)
	}
}
