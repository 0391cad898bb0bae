package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DigitumDei/Actuarius/internal/agent"
	"github.com/DigitumDei/Actuarius/internal/app"
	"github.com/DigitumDei/Actuarius/internal/capabilities"
	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/runner"
)

const localUser = "cli"

func newConnectRepoCmd(g *globals) *cobra.Command {
	var guild, guildName, user string

	cmd := &cobra.Command{
		Use:   "connect-repo <owner/repo | https://github.com/owner/repo>",
		Short: "Connect a public GitHub repository to a guild",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.Service.ConnectRepo(cmd.Context(), app.ConnectInput{
				GuildID:   guild,
				GuildName: guildName,
				Reference: args[0],
				UserID:    user,
			})
			if errors.Is(err, app.ErrAlreadyConnected) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already connected as #%s\n", rec.FullName, rec.ChannelID)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connected %s as #%s\n", rec.FullName, rec.ChannelID)
			return nil
		},
	}
	guildFlag(cmd, &guild)
	cmd.Flags().StringVar(&guildName, "guild-name", "", "Display name of the guild")
	userFlag(cmd, &user)
	return cmd
}

func newReposCmd(g *globals) *cobra.Command {
	var guild string

	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List repositories connected to a guild",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			repos, err := a.Service.ListRepos(cmd.Context(), guild)
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No repositories connected.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REPO\tCHANNEL\tVISIBILITY")
			for _, r := range repos {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.FullName, r.ChannelID, r.Visibility)
			}
			return tw.Flush()
		},
	}
	guildFlag(cmd, &guild)
	return cmd
}

func newSyncRepoCmd(g *globals) *cobra.Command {
	var guild string

	cmd := &cobra.Command{
		Use:   "sync-repo <owner/repo>",
		Short: "Clone or update the canonical checkout of a connected repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			checkout, err := a.Service.SyncRepo(cmd.Context(), guild, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s at %s (%s)\n", checkout.Path, checkout.Head, checkout.SourceRef)
			return nil
		},
	}
	guildFlag(cmd, &guild)
	return cmd
}

func newAskCmd(g *globals) *cobra.Command {
	var guild, user, provider, model string

	cmd := &cobra.Command{
		Use:   "ask <owner/repo> <prompt...>",
		Short: "Run an agent against a connected repository in a new thread",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.Service.Ask(cmd.Context(), app.AskInput{
				GuildID:   guild,
				Reference: args[0],
				UserID:    user,
				Prompt:    strings.Join(args[1:], " "),
				Provider:  provider,
				Model:     model,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Request %d queued in thread %s\n", req.ID, req.ThreadID)
			a.Drain(cmd.Context())
			return requestOutcome(cmd, a, req.ID)
		},
	}
	guildFlag(cmd, &guild)
	userFlag(cmd, &user)
	cmd.Flags().StringVar(&provider, "provider", "", "Agent to use: claude, codex or gemini (default: guild setting)")
	cmd.Flags().StringVar(&model, "model", "", "Model passed to the agent")
	return cmd
}

func newReplyCmd(g *globals) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "reply <thread> <prompt...>",
		Short: "Send a follow-up prompt to an existing thread",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.Service.FollowUp(cmd.Context(), app.FollowUpInput{
				ThreadID: args[0],
				UserID:   user,
				Prompt:   strings.Join(args[1:], " "),
			})
			if err != nil {
				return err
			}
			a.Drain(cmd.Context())
			return requestOutcome(cmd, a, req.ID)
		},
	}
	userFlag(cmd, &user)
	return cmd
}

func newCloseCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "close <thread>",
		Short: "Remove the worktree kept for a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Service.CloseSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Closed session for %s\n", args[0])
			return nil
		},
	}
}

func newRemoveGuildCmd(g *globals) *cobra.Command {
	var guild string

	cmd := &cobra.Command{
		Use:   "remove-guild",
		Short: "Forget a guild and everything recorded for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Service.RemoveGuild(cmd.Context(), guild); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed guild %s\n", guild)
			return nil
		},
	}
	guildFlag(cmd, &guild)
	return cmd
}

func newModelCmd(g *globals) *cobra.Command {
	var guild, user string

	cmd := &cobra.Command{
		Use:   "model <provider> [model]",
		Short: "Set the default agent and model for a guild",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			var model string
			if len(args) == 2 {
				model = args[1]
			}
			cfg, err := a.Service.SetModel(cmd.Context(), guild, args[0], model, user)
			if err != nil {
				return err
			}
			if cfg.Model == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Guild %s now uses %s with its default model\n", cfg.GuildID, cfg.Provider)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Guild %s now uses %s (%s)\n", cfg.GuildID, cfg.Provider, cfg.Model)
			return nil
		},
	}
	guildFlag(cmd, &guild)
	userFlag(cmd, &user)
	return cmd
}

func newDoctorCmd(g *globals) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify git, gh and agent binaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := runner.New(nil)
			binaries := capabilities.DefaultBinaries
			if !all {
				enabled := agent.NewRegistry(r, g.cfg.AgentSettings()).Binaries()
				binaries = append([]string{"git", "gh"}, enabled...)
			}

			var failed []string
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, res := range capabilities.Probe(cmd.Context(), r, binaries) {
				if res.OK {
					fmt.Fprintf(tw, "ok\t%s\t%s\n", res.Binary, res.Version)
					continue
				}
				failed = append(failed, res.Binary)
				fmt.Fprintf(tw, "missing\t%s\t%s\n", res.Binary, res.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if len(failed) > 0 {
				return fmt.Errorf("doctor checks failed: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Probe every known binary, not only enabled agents")
	return cmd
}

// requestOutcome turns a failed or unfinished request into a non-zero
// exit. It still reports after the command was interrupted.
func requestOutcome(cmd *cobra.Command, a *app.App, id int64) error {
	req, err := a.Store.GetRequest(context.WithoutCancel(cmd.Context()), id)
	if err != nil {
		return err
	}
	if !req.Status.Terminal() {
		return fmt.Errorf("request %d still %s", id, req.Status)
	}
	if req.Status != core.RequestSucceeded {
		return fmt.Errorf("request %d %s", id, req.Status)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Thread %s\n", req.ThreadID)
	return nil
}

func guildFlag(cmd *cobra.Command, guild *string) {
	cmd.Flags().StringVar(guild, "guild", "local", "Guild ID")
}

func userFlag(cmd *cobra.Command, user *string) {
	cmd.Flags().StringVar(user, "user", localUser, "User ID recorded with the request")
}
