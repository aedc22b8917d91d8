package migrations

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CLI wraps a Manager in the cobra command tree cmd/migrate exposes.
// Grounded on the teacher's migrations.CLI, trimmed to the subset this
// service's single Postgres dialect needs — no backup/restore commands,
// since this service has no BackupManager (spec carries no backup/restore
// feature; see DESIGN.md).
type CLI struct {
	manager *Manager
}

// NewCLI builds a CLI bound to manager.
func NewCLI(manager *Manager) *CLI {
	return &CLI{manager: manager}
}

// Root returns the cobra root command.
func (c *CLI) Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the safetyamp-sync Postgres schema",
	}
	root.AddCommand(c.upCmd(), c.downCmd(), c.statusCmd(), c.versionCmd())
	return root
}

func (c *CLI) upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up [version]",
		Short: "Apply pending migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.manager.Ping(ctx); err != nil {
				return err
			}
			if len(args) == 0 {
				return c.manager.Up(ctx)
			}
			var version int64
			if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return c.manager.UpTo(ctx, version)
		},
	}
}

func (c *CLI) downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down [version]",
		Short: "Roll back the most recent migration, or to a given version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				return c.manager.Down(ctx)
			}
			var version int64
			if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return c.manager.DownTo(ctx, version)
		},
	}
}

func (c *CLI) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.manager.Status(cmd.Context())
		},
	}
}

func (c *CLI) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := c.manager.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("current schema version: %d\n", version)
			return nil
		},
	}
}
