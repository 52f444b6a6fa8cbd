package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"miqa/pkg/domain"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project with import/export paths",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

var (
	projectImportPath string
	projectExportPath string
	projectS3Public   bool
	projectListJSON   bool
)

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)

	projectCreateCmd.Flags().StringVar(&projectImportPath, "import-path", "", "Path of the project's import file")
	projectCreateCmd.Flags().StringVar(&projectExportPath, "export-path", "", "Path of the project's export file")
	projectCreateCmd.Flags().BoolVar(&projectS3Public, "s3-public", false, "Read s3:// file locations without credentials")
	projectListCmd.Flags().BoolVar(&projectListJSON, "json", false, "Output as JSON")
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	name := args[0]
	project := domain.Project{
		ID:         uuid.NewString(),
		Name:       name,
		ImportPath: projectImportPath,
		ExportPath: projectExportPath,
		S3Public:   projectS3Public,
		CreatedAt:  time.Now().UTC(),
	}
	err = app.Store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, exists := tx.FindProjectByName(name); exists {
			return fmt.Errorf("project %s already exists", name)
		}
		_, err := tx.CreateProject(project)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("created project %s (%s)\n", name, project.ID)
	return nil
}

func runProjectList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	var projects []domain.Project
	err = app.Store.View(ctx, func(view domain.TransactionView) error {
		projects = view.ListProjects()
		return nil
	})
	if err != nil {
		return err
	}

	if projectListJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(projects)
	}
	for _, project := range projects {
		fmt.Printf("%s\t%s\n", project.Name, project.ID)
	}
	return nil
}
