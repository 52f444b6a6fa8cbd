package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect processing jobs",
	Long: `Jobs are tracked by the in-process worker, so these commands report
on jobs submitted during the current invocation (the import command also
prints job outcomes directly).`,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the status of one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatus,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobList,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobListCmd)
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	job, ok := app.Worker.Poll(args[0])
	if !ok {
		return fmt.Errorf("job %s not found", args[0])
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func runJobList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	for _, job := range app.Worker.Jobs() {
		fmt.Printf("%s\t%s\t%s\n", job.ID, job.Kind, job.Status)
	}
	return nil
}
