package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"miqa/internal/dispatch"
)

var exportCmd = &cobra.Command{
	Use:   "export <project>",
	Short: "Export a project's current state to its export file",
	Long: `Serializes the project's experiments, scans, frames, and latest
decisions to the configured export path. A .csv path produces the tabular
format, anything else the hierarchical JSON format.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var (
	exportJSON  bool
	exportAsync bool
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().BoolVar(&exportJSON, "json", false, "Output as JSON")
	exportCmd.Flags().BoolVar(&exportAsync, "async", false, "Queue the export as a job and report its outcome")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	if exportAsync {
		job, err := app.Worker.Submit(ctx, dispatch.Input{Kind: dispatch.KindExport, ProjectName: args[0]})
		if err != nil {
			return err
		}
		fmt.Printf("queued export job %s\n", job.ID)
		if err := app.drain(ctx); err != nil {
			return err
		}
		done, _ := app.Worker.Poll(job.ID)
		fmt.Printf("job %s %s: %s\n", done.Kind, done.ID, done.Status)
		if done.Error != "" {
			return fmt.Errorf("export job failed: %s", done.Error)
		}
		return nil
	}

	result, err := app.Service.Export(ctx, args[0])
	if err != nil {
		return err
	}

	if exportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Printf("exported %d rows to %s\n", result.Rows, result.ExportPath)
	return nil
}
