package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"miqa/pkg/domain"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Create a user so imported decisions can resolve their creator",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserCreate,
}

var userName string

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)
	userCreateCmd.Flags().StringVar(&userName, "name", "", "Display name")
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	email := args[0]
	user := domain.User{ID: uuid.NewString(), Email: email, Name: userName}
	err = app.Store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, exists := tx.FindUserByEmail(email); exists {
			return fmt.Errorf("user %s already exists", email)
		}
		_, err := tx.CreateUser(user)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("created user %s (%s)\n", email, user.ID)
	return nil
}
