package main

import (
	"fmt"
	"io"
	"mailbox/backend/internal/api/handler"
	"mailbox/backend/internal/mailbox"
	"mailbox/backend/internal/models"
	"mailbox/backend/internal/storage"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

const previewRunes = 80

func newPendingCmd(env *adminEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List questions waiting for an answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := env.openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			pending, err := engine.ListPending(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				fmt.Fprintln(out, "No pending questions.")
				return nil
			}
			for _, m := range pending {
				fmt.Fprintf(out, "#%d  %s  %s\n", m.ID, m.CreatedAt.Format("2006-01-02 15:04"), m.Preview(previewRunes))
			}
			return nil
		},
	}
}

func newHistoryCmd(env *adminEnv) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the latest messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := env.openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			msgs, err := engine.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printMessage(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", storage.DefaultHistoryLimit, "number of messages")
	return cmd
}

func printMessage(out io.Writer, m models.Message) {
	arrow := "📥"
	if m.Direction == models.Outgoing {
		arrow = "📤"
	}
	ref := ""
	if m.AnswersQuestionID != nil {
		ref = fmt.Sprintf(" ↩#%d", *m.AnswersQuestionID)
	}
	fmt.Fprintf(out, "%s #%d%s [%s] %s\n", arrow, m.ID, ref, m.Status, m.Preview(previewRunes))
}

func newAnswerCmd(env *adminEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "answer <question-id> <text>",
		Short: "Record the deferred answer to a question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid question id %q", args[0])
			}
			engine, err := env.openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}

			answerID, err := engine.SubmitDeferredAnswer(cmd.Context(), uint(id), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Answer #%d recorded for question #%d.\n", answerID, id)
			return nil
		},
	}
}

func newAskCmd(env *adminEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <text>",
		Short: "Submit a question as if it came from the chat",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := env.openEngine(cmd.Context(), true)
			if err != nil {
				return err
			}
			out, err := engine.Ingest(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			switch out.Kind {
			case mailbox.OutcomeAnswered:
				fmt.Fprintf(w, "🤖 %s\n", out.Answer)
			case mailbox.OutcomeDeferred:
				fmt.Fprintf(w, "Question #%d queued for the deferred responder (keyword %q).\n", out.QuestionID, out.Keyword)
			case mailbox.OutcomeFallback:
				fmt.Fprintf(w, "Question #%d queued: %v\n", out.QuestionID, out.Err)
			default:
				fmt.Fprintf(w, "Question #%d: %s\n", out.QuestionID, out.Kind)
			}
			return nil
		},
	}
}

func newFactsCmd(env *adminEnv) *cobra.Command {
	facts := &cobra.Command{
		Use:   "facts",
		Short: "Manage remembered facts",
	}

	facts.AddCommand(&cobra.Command{
		Use:   "add <category> <fact>",
		Short: "Remember a fact",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			overlay, err := env.openOverlay()
			if err != nil {
				return err
			}
			if err := overlay.AddFact(args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fact added to %q.\n", args[0])
			return nil
		},
	})

	facts.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print facts as they are given to the fast responder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overlay, err := env.openOverlay()
			if err != nil {
				return err
			}
			rendered, err := overlay.RenderContext()
			if err != nil {
				return err
			}
			if rendered == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No facts yet.")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		},
	})
	return facts
}

func newInstructCmd(env *adminEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "instruct <text>",
		Short: "Add a standing instruction for the fast responder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overlay, err := env.openOverlay()
			if err != nil {
				return err
			}
			if err := overlay.AddInstruction(strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Instruction added.")
			return nil
		},
	}
}

func newSectionCmd(env *adminEnv) *cobra.Command {
	section := &cobra.Command{
		Use:   "section",
		Short: "Edit the context document",
	}
	section.AddCommand(&cobra.Command{
		Use:   "set <name> <content>",
		Short: `Replace or append the "## <name>" section; content "-" reads stdin`,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			overlay, err := env.openOverlay()
			if err != nil {
				return err
			}

			content := strings.Join(args[1:], " ")
			if content == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				content = string(data)
			}
			if err := overlay.UpdateSection(args[0], content); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Section %q updated.\n", args[0])
			return nil
		},
	})
	return section
}

func newStatsCmd(env *adminEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue and knowledge statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := env.openEngine(cmd.Context(), false)
			if err != nil {
				return err
			}
			pending, err := engine.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			st, err := env.overlay.Stats()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Pending questions: %d\n", pending)
			if st.DocumentPresent {
				fmt.Fprintf(w, "Context document: %d bytes\n", st.DocumentBytes)
			} else {
				fmt.Fprintln(w, "Context document: none")
			}
			fmt.Fprintf(w, "Facts: %d\n", st.FactCount)
			fmt.Fprintf(w, "Categories: %s\n", strings.Join(st.Categories, ", "))
			return nil
		},
	}
}

func newTokenCmd(env *adminEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API token for the deferred responder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.loadConfig()
			if err != nil {
				return err
			}
			tokens, err := handler.NewTokenIssuer(cfg.API.JWTSecret, cfg.API.TokenTTL)
			if err != nil {
				return err
			}
			token, err := tokens.Generate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
