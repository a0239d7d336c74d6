package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"agentline/internal/app"
	"agentline/internal/engine"
	"agentline/internal/repo"
)

func noteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "note", Short: "Manage agent notes"}
	cmd.AddCommand(noteAddCmd())
	cmd.AddCommand(noteListCmd())
	return cmd
}

func noteAddCmd() *cobra.Command {
	var in engine.NewNote
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a note",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.CreateNote(ctx, currentUser(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&in.AgentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&in.ActionID, "action", "", "action id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Content, "content", "", "note body")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func noteListCmd() *cobra.Command {
	var f repo.NoteFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				notes, err := a.Engine.ListNotes(ctx, currentUser(), f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(notes))
				for _, n := range notes {
					rows = append(rows, table.Row{n.ID, n.Title, truncate(n.Content, 60), n.UpdatedAt})
				}
				return printTable(notes, table.Row{"ID", "Title", "Content", "Updated"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&f.ActionID, "action", "", "action id")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func draftCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "draft", Short: "Review content drafts"}
	cmd.AddCommand(draftListCmd())
	cmd.AddCommand(draftReviewCmd())
	return cmd
}

func draftListCmd() *cobra.Command {
	var f repo.DraftFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				drafts, err := a.Engine.ListDrafts(ctx, currentUser(), f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(drafts))
				for _, d := range drafts {
					rows = append(rows, table.Row{d.ID, d.BatchID, truncate(d.Title, 40), d.Status})
				}
				return printTable(drafts, table.Row{"ID", "Batch", "Title", "Status"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&f.BatchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&f.Status, "status", "", "pending, approved, rejected or revised")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func draftReviewCmd() *cobra.Command {
	var r engine.DraftReview
	cmd := &cobra.Command{
		Use:   "review <draft-id>",
		Short: "Approve, reject or revise a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.ReviewDraft(ctx, currentUser(), args[0], r)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&r.Decision, "decision", "", "approve, reject or revise")
	cmd.Flags().StringVar(&r.Feedback, "feedback", "", "reviewer feedback")
	cmd.Flags().StringVar(&r.Revision, "revision", "", "revised content (for revise)")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}
