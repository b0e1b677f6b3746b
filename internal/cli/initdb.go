package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the database schema",
	Long:  `Create the costs database and run any pending schema migrations.`,
	RunE:  runInitDB,
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}

func runInitDB(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("verify database: %w", err)
	}

	fmt.Printf("Database initialized at %s\n", cfg.Storage.Path)
	return nil
}
