package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanveloso/landale-sub014/internal/uds"
)

const (
	defaultDirName = ".landale"
	dirEnv         = "LANDALE_DIR"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Dir     string
	Timeout time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "landale",
		Short:         "landale - broadcast overlay orchestrator",
		Long:          "Arbitrates alerts, sub trains, overrides and ticker content onto overlay layers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "data directory (default: $LANDALE_DIR or the nearest .landale/)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "control socket timeout")

	cmd.AddCommand(newDaemonCommand(opts))
	cmd.AddCommand(newUpCommand(opts))
	cmd.AddCommand(newDownCommand(opts))
	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newSubmitCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newStateCommand(opts))
	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newUpdateCommand(opts))
	cmd.AddCommand(newTickerCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// dataDir resolves the data directory from --dir, $LANDALE_DIR, or the
// nearest .landale/ above the working directory.
func (o *rootOptions) dataDir() (string, error) {
	if o.Dir != "" {
		return o.Dir, nil
	}
	if env := os.Getenv(dirEnv); env != "" {
		return env, nil
	}
	if dir := findDataDir(); dir != "" {
		return dir, nil
	}
	return "", fmt.Errorf("%s/ directory not found; run 'landale init' first or pass --dir", defaultDirName)
}

func (o *rootOptions) client() (*uds.Client, error) {
	dir, err := o.dataDir()
	if err != nil {
		return nil, err
	}
	return uds.NewClient(filepath.Join(dir, uds.DefaultSocketName), o.Timeout), nil
}

func findDataDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, defaultDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
