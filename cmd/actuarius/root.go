package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/DigitumDei/Actuarius/internal/app"
	"github.com/DigitumDei/Actuarius/internal/config"
	"github.com/DigitumDei/Actuarius/internal/notify"
)

// globals are shared by every subcommand once PersistentPreRunE has run.
type globals struct {
	configPath string
	logFormat  string
	cfg        config.Config
}

func newRootCmd(version string) *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:          "actuarius",
		Short:        "Run coding agents against connected GitHub repositories",
		SilenceUsage: true,
		Version:      version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context(), g.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			g.cfg = cfg

			handler, err := newHandler(cmd.ErrOrStderr(), g.logFormat, cfg.SlogLevel())
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(handler))
			cmd.SetContext(clog.WithLogger(cmd.Context(), clog.New(handler)))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("ACTUARIUS_CONFIG"), "Path to a YAML config file (env: ACTUARIUS_CONFIG)")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "json", "Log format: json or text")

	cmd.AddCommand(newServeCmd(g, version))
	cmd.AddCommand(newConnectRepoCmd(g))
	cmd.AddCommand(newReposCmd(g))
	cmd.AddCommand(newSyncRepoCmd(g))
	cmd.AddCommand(newAskCmd(g))
	cmd.AddCommand(newReplyCmd(g))
	cmd.AddCommand(newCloseCmd(g))
	cmd.AddCommand(newModelCmd(g))
	cmd.AddCommand(newRemoveGuildCmd(g))
	cmd.AddCommand(newDoctorCmd(g))

	cmd.SetVersionTemplate("{{.Version}}\n")
	return cmd
}

func newHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "text", "":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// openApp builds the application for a one-shot command. Thread
// messages are printed to the command's output.
func openApp(cmd *cobra.Command, g *globals) (*app.App, error) {
	return app.New(cmd.Context(), g.cfg, app.Options{
		Notifier: notify.NewWriter(cmd.OutOrStdout()),
	})
}
