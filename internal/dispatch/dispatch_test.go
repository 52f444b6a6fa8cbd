package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"miqa/internal/ingest"
)

func waitForTerminal(t *testing.T, w *Worker, id string) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := w.Poll(id)
		if !ok {
			t.Fatalf("job %s vanished", id)
		}
		if job.Status == StatusSucceeded || job.Status == StatusFailed {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return Job{}
}

func TestWorkerRunsJob(t *testing.T) {
	var mu sync.Mutex
	var seen []Job
	w := NewWorker(nil)
	w.Register(KindEvaluation, func(_ context.Context, job Job) error {
		mu.Lock()
		seen = append(seen, job)
		mu.Unlock()
		return nil
	})
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	job, err := w.Submit(context.Background(), Input{Kind: KindEvaluation, ProjectID: "p1", FrameIDs: []string{"f1", "f2"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("status = %s", job.Status)
	}

	done := waitForTerminal(t, w, job.ID)
	if done.Status != StatusSucceeded || done.CompletedAt == nil {
		t.Fatalf("job = %+v", done)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].ProjectID != "p1" || len(seen[0].FrameIDs) != 2 {
		t.Fatalf("seen = %+v", seen)
	}
}

func TestWorkerRecordsFailure(t *testing.T) {
	w := NewWorker(nil)
	w.Register(KindFrameConversion, func(context.Context, Job) error {
		return fmt.Errorf("conversion broke")
	})
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	job, err := w.Submit(context.Background(), Input{Kind: KindFrameConversion})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := waitForTerminal(t, w, job.ID)
	if done.Status != StatusFailed || done.Error != "conversion broke" {
		t.Fatalf("job = %+v", done)
	}
}

func TestSubmitUnregisteredKind(t *testing.T) {
	w := NewWorker(nil)
	if _, err := w.Submit(context.Background(), Input{Kind: KindWSIThumbnail}); err == nil {
		t.Fatal("expected error for unregistered kind")
	}
}

func TestNotifierMapsKinds(t *testing.T) {
	w := NewWorker(nil)
	w.Register(KindFrameConversion, NoopRunner())
	w.Register(KindWSIThumbnail, NoopRunner())
	w.Register(KindEvaluation, NoopRunner())
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()
	n := &Notifier{Worker: w}

	cases := []struct {
		note ingest.NotificationKind
		want Kind
	}{
		{ingest.NotifyConversion, KindFrameConversion},
		{ingest.NotifyThumbnail, KindWSIThumbnail},
		{ingest.NotifyEvaluation, KindEvaluation},
	}
	for _, tc := range cases {
		if err := n.Notify(context.Background(), ingest.Notification{Kind: tc.note, ProjectID: "p1"}); err != nil {
			t.Fatalf("notify %s: %v", tc.note, err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		jobs := w.Jobs()
		kinds := map[Kind]int{}
		finished := 0
		for _, job := range jobs {
			kinds[job.Kind]++
			if job.Status == StatusSucceeded {
				finished++
			}
		}
		if finished == len(cases) {
			for _, tc := range cases {
				if kinds[tc.want] != 1 {
					t.Fatalf("kinds = %v", kinds)
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs never finished: %+v", jobs)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifierUnknownKind(t *testing.T) {
	n := &Notifier{Worker: NewWorker(nil)}
	if err := n.Notify(context.Background(), ingest.Notification{Kind: "mystery"}); err == nil {
		t.Fatal("expected error for unknown notification kind")
	}
}
