package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/weftworks/loom/internal/engine"
	"github.com/weftworks/loom/internal/llm"
	"github.com/weftworks/loom/internal/orchestrator"
	"github.com/weftworks/loom/internal/tui"
)

func newRunCmd(root *rootFlags) *cobra.Command {
	var plain bool
	var sessionID string

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Plan and execute tool calls for a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			client, err := newLLMClient(a.cfg)
			if err != nil {
				return err
			}

			goal := args[0]
			interactive := !plain && term.IsTerminal(int(os.Stdout.Fd()))
			if interactive {
				return runWithDashboard(cmd, a, client, goal, sessionID)
			}
			return runPlain(cmd, a, client, goal, sessionID)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Disable the interactive dashboard")
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session id")

	return cmd
}

func dispatch(ctx context.Context, orch *orchestrator.Orchestrator, sessionID, goal string) (*orchestrator.Result, error) {
	if sessionID != "" {
		return orch.Resume(ctx, sessionID, goal)
	}
	return orch.Run(ctx, goal)
}

// runPlain logs step progress as lines and prints the outline and summary.
func runPlain(cmd *cobra.Command, a *app, client llm.Client, goal, sessionID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	orch := a.newOrchestrator(client,
		func(n engine.Notification) {
			log := a.log.WithFields(map[string]any{"step": n.Index, "status": n.Status})
			if n.Error != "" {
				log = log.WithFields(map[string]any{"error": n.Error})
			}
			log.Info(n.Title)
		},
		func(_, outline string) {
			fmt.Fprint(out, outline)
		},
	)

	res, err := dispatch(ctx, orch, sessionID, goal)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, res.Summary)
	fmt.Fprintf(out, "session: %s\n", res.SessionID)
	return nil
}

// runWithDashboard drives the bubbletea dashboard; the orchestrator runs in
// a goroutine and feeds the program through observer messages.
func runWithDashboard(cmd *cobra.Command, a *app, client llm.Client, goal, sessionID string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(tui.NewModel(goal, cancel))
	orch := a.newOrchestrator(client,
		func(n engine.Notification) {
			p.Send(tui.StepMsg(n))
		},
		func(planID, outline string) {
			p.Send(tui.PlanMsg{PlanID: planID, Outline: outline})
		},
	)

	var (
		res    *orchestrator.Result
		runErr error
	)
	go func() {
		res, runErr = dispatch(ctx, orch, sessionID, goal)
		if runErr != nil {
			p.Send(tui.DoneMsg{Err: runErr})
			return
		}
		p.Send(tui.DoneMsg{Summary: res.Summary})
	}()

	if _, err := p.Run(); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if res != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "session: %s\n", res.SessionID)
	}
	return nil
}
