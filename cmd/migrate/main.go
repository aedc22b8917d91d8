// Command migrate applies or inspects the Postgres schema the Standard
// deployment profile's failed-record queue and audit log use. The Lite
// profile's embedded SQLite store creates its own schema on first use and
// never needs this tool.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/infrastructure/migrations"
)

func main() {
	var configPath string
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Storage.Backend != config.StorageBackendPostgres {
		fmt.Fprintf(os.Stderr, "migrate: storage.backend is %q; nothing to migrate\n", cfg.Storage.Backend)
		return
	}

	manager, err := migrations.New(migrations.Config{
		DSN:        cfg.DatabaseDSN(),
		MaxRetries: 3,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	cli := migrations.NewCLI(manager)
	root := cli.Root()
	root.SetArgs(filterConfigFlag(os.Args[1:]))

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

// filterConfigFlag strips the --config <path> pair cobra's root command
// doesn't declare, since it was already consumed above.
func filterConfigFlag(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" {
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out
}
