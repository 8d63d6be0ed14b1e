package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/destinyhacking/app/backend/internal/config"
	"github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/logging"
)

// rootOptions holds the persistent flags and the config they resolve to.
type rootOptions struct {
	configPath string
	format     string
	cfg        config.Config
}

// newRootCmd creates the root destiny command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "destiny",
		Short:         "Destiny Hacking offline queue and streak tool",
		Long:          "destiny records check-ins while offline, replays them to the app\nbackend when connectivity returns, and reports streak and grace status.",
		Version:       fmt.Sprintf("destiny %s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.format {
			case "text", "json":
			default:
				return errors.New(errors.ErrInvalid, fmt.Sprintf("unknown --format %q (want text or json)", opts.format))
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			logging.SetGlobal(logging.New(cmd.ErrOrStderr(), logging.ParseLevel(cfg.Log.Level)))
			return nil
		},
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format: text or json")

	cmd.AddCommand(
		newServeCmd(opts),
		newEnqueueCmd(opts),
		newPendingCmd(opts),
		newDrainCmd(opts),
		newStreakCmd(opts),
		newGraceCmd(opts),
		newCycleCmd(opts),
	)

	return cmd
}

// emit writes v as indented JSON, or calls text when the format is text.
func (o *rootOptions) emit(w io.Writer, v interface{}, text func(io.Writer)) error {
	if o.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
