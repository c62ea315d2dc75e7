package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/weftworks/loom/internal/session"
)

func newChatCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive REPL; each line orchestrates in the same session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			client, err := newLLMClient(a.cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			// One session for the whole REPL so every turn sees the
			// prior history through the prompt strategy.
			orch := a.newOrchestrator(client, nil, nil)
			sess, err := session.Create(ctx, a.store)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			if interactive {
				fmt.Fprintf(out, "session %s — type a goal, or exit to quit\n", sess.ID)
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				if interactive {
					fmt.Fprint(out, "loom> ")
				}
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" {
					break
				}

				res, err := orch.RunSession(ctx, sess, line)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					fmt.Fprintln(out, "error: "+err.Error())
					continue
				}
				fmt.Fprintln(out, res.Summary)
			}
			return scanner.Err()
		},
	}

	return cmd
}
