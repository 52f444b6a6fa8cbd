package dispatch

import (
	"context"
	"fmt"

	"miqa/internal/ingest"
	"miqa/internal/location"
	"miqa/pkg/domain"
)

// ImportRunner executes a queued import of the job's project (every project
// in the import file when ProjectName is empty). A reconciliation failure
// fails the job; warnings do not.
func ImportRunner(svc *ingest.Service) Runner {
	return func(ctx context.Context, job Job) error {
		_, err := svc.Import(ctx, job.ProjectName)
		return err
	}
}

// ExportRunner executes a queued export of the job's project.
func ExportRunner(svc *ingest.Service) Runner {
	return func(ctx context.Context, job Job) error {
		_, err := svc.Export(ctx, job.ProjectName)
		return err
	}
}

// FrameCheckRunner verifies that every frame named by the job still exists
// and that its file location is readable. Conversion and thumbnail pipelines
// both start with this check; the heavy processing happens downstream.
func FrameCheckRunner(store domain.PersistentStore, reader *location.Reader) Runner {
	return func(ctx context.Context, job Job) error {
		frames := make([]domain.Frame, 0, len(job.FrameIDs))
		err := store.View(ctx, func(view domain.TransactionView) error {
			byID := make(map[string]domain.Frame)
			for _, project := range view.ListProjects() {
				for _, experiment := range view.ListExperiments(project.ID) {
					for _, scan := range view.ListScans(experiment.ID) {
						for _, frame := range view.ListFrames(scan.ID) {
							byID[frame.ID] = frame
						}
					}
				}
			}
			for _, id := range job.FrameIDs {
				frame, ok := byID[id]
				if !ok {
					return fmt.Errorf("frame %s not found", id)
				}
				frames = append(frames, frame)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, frame := range frames {
			loc, err := location.Parse(frame.FileLocation)
			if err != nil {
				return fmt.Errorf("frame %s: %w", frame.ID, err)
			}
			if _, err := reader.ReadBytes(ctx, loc); err != nil {
				return fmt.Errorf("frame %s: %w", frame.ID, err)
			}
		}
		return nil
	}
}

// NoopRunner succeeds without work. Useful for job kinds whose processing
// runs elsewhere.
func NoopRunner() Runner {
	return func(context.Context, Job) error { return nil }
}
