package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/scrumvoice/scrumvoice/internal/bot"
	"github.com/scrumvoice/scrumvoice/internal/config"
	"github.com/scrumvoice/scrumvoice/internal/tracker"
)

var chatUser string

var (
	botStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"})
	stageStyle = lipgloss.NewStyle().Faint(true)
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run a standup conversation in the terminal",
	Long: `Run the standup bot as an interactive terminal conversation.

Type your answers; /summary prints a recap of the standup so far and
/quit (or an empty submit with Ctrl+C) ends the session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("chat requires an interactive terminal; use 'scrumvoice serve' for programmatic access")
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		tc, err := tracker.New(cfg.Tracker.Kind, cfg.Tracker.URL, cfg.Tracker.Email,
			cfg.Tracker.APIToken, cfg.Tracker.ProjectKey)
		if err != nil {
			return fmt.Errorf("build %s tracker: %w", cfg.Tracker.Kind, err)
		}

		user := chatUser
		if user == "" {
			user = cfg.Tracker.DefaultAssignee
		}
		engine := bot.New(bot.Config{
			Tracker:    tc,
			ProjectKey: cfg.Tracker.ProjectKey,
			User:       user,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reply := engine.Start(ctx)
		printReply(reply)

		for ctx.Err() == nil {
			var input string
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().Key("answer").Title("You").Value(&input),
			))
			if err := form.RunWithContext(ctx); err != nil {
				if ctx.Err() != nil {
					break
				}
				return err
			}

			switch strings.TrimSpace(strings.ToLower(input)) {
			case "/quit", "/exit":
				fmt.Println(botStyle.Render("Bot:"), "Bye! See you at the next standup.")
				return nil
			case "/summary":
				fmt.Println(botStyle.Render("Bot:"), engine.GenerateSummary(ctx))
				continue
			}

			printReply(engine.Advance(ctx, input))
		}
		return nil
	},
}

func printReply(reply bot.Reply) {
	fmt.Println(botStyle.Render("Bot:"), reply.Message)
	fmt.Println(stageStyle.Render("(" + reply.Stage + ")"))
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "", "tracker identity to run the standup for (defaults to tracker.default_assignee)")
}
