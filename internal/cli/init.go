package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pikachusensei/flam/internal/cli/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the queue database",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("%s Database initialized at %s\n", ui.SymbolCheck, cfg.Database.Path)
	return nil
}
