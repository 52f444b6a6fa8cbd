package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"miqa/internal/dispatch"
	"miqa/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import [project]",
	Short: "Import a project's import file into the store",
	Long: `Reads the project's configured import file (CSV or JSON), replaces the
project's experiments with the file contents, and queues processing jobs
for volumetric and whole-slide frames. With no project argument every
project named in the import file is reconciled.

Examples:
  miqactl import myproject          # import one project
  miqactl import                    # import all projects in the file
  miqactl import myproject --json   # machine-readable result
  miqactl import myproject --async  # queue the import as a job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

var (
	importJSON  bool
	importAsync bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importJSON, "json", false, "Output as JSON")
	importCmd.Flags().BoolVar(&importAsync, "async", false, "Queue the import as a job and report its outcome")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	project := ""
	if len(args) == 1 {
		project = args[0]
	}

	if importAsync {
		job, err := app.Worker.Submit(ctx, dispatch.Input{Kind: dispatch.KindImport, ProjectName: project})
		if err != nil {
			return err
		}
		fmt.Printf("queued import job %s\n", job.ID)
		if err := app.drain(ctx); err != nil {
			return err
		}
		done, _ := app.Worker.Poll(job.ID)
		fmt.Printf("job %s %s: %s\n", done.Kind, done.ID, done.Status)
		if done.Error != "" {
			return fmt.Errorf("import job failed: %s", done.Error)
		}
		return nil
	}

	result, err := app.Service.Import(ctx, project)
	if err != nil {
		return err
	}
	if err := app.drain(ctx); err != nil {
		return err
	}
	jobs := app.Worker.Jobs()

	if importJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			ImportPath string         `json:"import_path"`
			Counts     ingest.Counts  `json:"counts"`
			Warnings   []string       `json:"warnings,omitempty"`
			Jobs       []dispatch.Job `json:"jobs,omitempty"`
		}{result.ImportPath, result.Counts, result.Warnings, jobs})
	}

	fmt.Printf("imported %s\n", result.ImportPath)
	fmt.Printf("  projects:    %d\n", result.Counts.Projects)
	fmt.Printf("  experiments: %d\n", result.Counts.Experiments)
	fmt.Printf("  scans:       %d\n", result.Counts.Scans)
	fmt.Printf("  frames:      %d\n", result.Counts.Frames)
	fmt.Printf("  decisions:   %d\n", result.Counts.Decisions)
	if result.Counts.DroppedDecisions > 0 {
		fmt.Printf("  dropped decisions: %d\n", result.Counts.DroppedDecisions)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	for _, job := range jobs {
		fmt.Printf("job %s %s: %s\n", job.Kind, job.ID, job.Status)
		if job.Error != "" {
			fmt.Fprintf(os.Stderr, "job %s failed: %s\n", job.ID, job.Error)
		}
	}
	return nil
}
