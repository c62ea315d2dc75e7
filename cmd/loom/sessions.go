package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/weftworks/loom/internal/session"
)

func newSessionsCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}

	cmd.AddCommand(newSessionsListCmd(root))
	cmd.AddCommand(newSessionsShowCmd(root))
	cmd.AddCommand(newSessionsDeleteCmd(root))

	return cmd
}

func newSessionsListCmd(root *rootFlags) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored session ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}

			ids, err := a.store.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEVENTS\tUPDATED")
			for _, id := range ids {
				sess, err := a.store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", id, len(sess.EventsSnapshot()),
					sess.LastUpdateTime().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list ids with this prefix")

	return cmd
}

func newSessionsShowCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Render a session's event tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}

			sess, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s\ncreated %s, %d events, %d runs\n",
				sess.ID, sess.CreatedAt.Format(time.RFC3339), len(sess.EventsSnapshot()), len(sess.Runs))
			if usage := sess.TotalUsage(); usage.TotalTokens > 0 {
				fmt.Fprintf(out, "tokens: %d prompt + %d completion = %d total\n",
					usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
			}
			fmt.Fprintln(out)

			events := sess.EventsSnapshot()
			children := make(map[string][]session.Event)
			for _, ev := range events {
				children[ev.ParentEventID()] = append(children[ev.ParentEventID()], ev)
			}

			var render func(parentID string, depth int)
			render = func(parentID string, depth int) {
				for _, ev := range children[parentID] {
					fmt.Fprintf(out, "%s%s [%s/%s] %s (%s)\n",
						strings.Repeat("  ", depth), ev.ID, ev.Type, ev.Source,
						eventLine(ev), ev.Timestamp.Format(time.RFC3339))
					render(ev.ID, depth+1)
				}
			}
			render("", 0)
			return nil
		},
	}

	return cmd
}

// eventLine reduces an event message to its first line for tree rendering.
func eventLine(ev session.Event) string {
	var text string
	switch msg := ev.Message.(type) {
	case string:
		text = msg
	case map[string]any:
		if content, ok := msg["content"].(string); ok {
			text = content
		} else if data, err := json.Marshal(msg); err == nil {
			text = string(data)
		}
	default:
		if data, err := json.Marshal(ev.Message); err == nil {
			text = string(data)
		}
	}

	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > 100 {
		text = text[:100] + "..."
	}
	return text
}

func newSessionsDeleteCmd(root *rootFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}

			id := args[0]
			if !yes && term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprintf(cmd.OutOrStdout(), "Delete session %s? [y/N]: ", id)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if !scanner.Scan() {
					return nil
				}
				answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
				if answer != "y" && answer != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			if err := a.store.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")

	return cmd
}
