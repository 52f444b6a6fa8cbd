package cli

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"miqa/internal/blob"
	"miqa/internal/config"
	"miqa/internal/dispatch"
	s3store "miqa/internal/infra/blob/s3"
	"miqa/internal/infra/persistence"
	"miqa/internal/ingest"
	"miqa/internal/location"
	"miqa/pkg/domain"
)

// App bundles the wired components a command needs.
type App struct {
	Cfg     *config.Config
	Store   domain.PersistentStore
	Blobs   blob.Store
	Reader  *location.Reader
	Worker  *dispatch.Worker
	Service *ingest.Service
}

// newApp loads configuration, opens the stores, and starts the job worker.
func newApp(ctx context.Context, cmd *cobra.Command) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("storage"); v != "" {
		cfg.Storage = v
	}
	if v, _ := cmd.Flags().GetString("sqlite-path"); v != "" {
		cfg.SQLitePath = v
	}
	if v, _ := cmd.Flags().GetString("postgres-dsn"); v != "" {
		cfg.PostgresDSN = v
	}

	store, err := persistence.Open(persistence.Options{
		Driver:      cfg.Storage,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	})
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reader := &location.Reader{Blobs: blobs}
	if fetcher, ok := blobs.(location.S3Fetcher); ok {
		reader.S3 = fetcher
	} else {
		fetcher, err := s3store.NewFetcher(ctx, s3store.Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		reader.S3 = fetcher
	}

	worker := dispatch.NewWorker(dispatch.NewMetrics(prometheus.NewRegistry()))
	frameCheck := dispatch.FrameCheckRunner(store, reader)
	worker.Register(dispatch.KindFrameConversion, frameCheck)
	worker.Register(dispatch.KindWSIThumbnail, frameCheck)
	worker.Register(dispatch.KindEvaluation, dispatch.NoopRunner())

	service := ingest.NewService(store, reader, &dispatch.Notifier{Worker: worker}, ingest.ServiceConfig{
		ImportPath:               cfg.ImportPath,
		ExportPath:               cfg.ExportPath,
		ReplaceNullCreationTimes: cfg.ReplaceNullCreationTimes,
	})
	worker.Register(dispatch.KindImport, dispatch.ImportRunner(service))
	worker.Register(dispatch.KindExport, dispatch.ExportRunner(service))
	worker.Start()

	return &App{Cfg: cfg, Store: store, Blobs: blobs, Reader: reader, Worker: worker, Service: service}, nil
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch blob.Driver(cfg.BlobDriver) {
	case blob.DriverS3:
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	case blob.DriverMemory:
		return blob.NewMemory(), nil
	default:
		return blob.NewFilesystem(cfg.BlobRoot)
	}
}

// drain waits for all submitted jobs to reach a terminal status, then stops
// the worker.
func (a *App) drain(ctx context.Context) error {
	for {
		pending := false
		for _, job := range a.Worker.Jobs() {
			if job.Status == dispatch.StatusQueued || job.Status == dispatch.StatusRunning {
				pending = true
				break
			}
		}
		if !pending {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
	return a.Worker.Stop(ctx)
}
