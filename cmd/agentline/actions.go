package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"agentline/internal/app"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/repo"
)

func actionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Manage actions",
		Long:  "Actions are an agent's backlog. Completing a recurring action schedules the next occurrence.",
	}
	cmd.AddCommand(actionDefineCmd())
	cmd.AddCommand(actionListCmd())
	cmd.AddCommand(actionShowCmd())
	cmd.AddCommand(actionUpdateCmd())
	cmd.AddCommand(actionStartCmd())
	cmd.AddCommand(actionCompleteCmd())
	cmd.AddCommand(actionDismissCmd())
	return cmd
}

func actionDefineCmd() *cobra.Command {
	var in engine.NewAction
	var scheduledFor, recurrence, recurAt string
	cmd := &cobra.Command{
		Use:   "define",
		Short: "Create an action for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ScheduledFor = optionalString(scheduledFor)
			if recurrence != "" {
				in.TaskConfig.Recurrence = &domain.Recurrence{Frequency: recurrence, Time: recurAt}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				draft, err := a.Engine.ProposeAction(currentUser(), in)
				if err != nil {
					return err
				}
				action, err := a.Engine.DefineAction(ctx, currentUser(), draft)
				if err != nil {
					return err
				}
				return printJSONOrTable(action)
			})
		},
	}
	cmd.Flags().StringVar(&in.AgentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&in.Title, "title", "", "action title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&in.TaskType, "type", "", "interactive, scheduled, measurement or manual")
	cmd.Flags().StringVar(&in.TaskConfig.Instructions, "instructions", "", "execution instructions")
	cmd.Flags().StringVar(&in.TaskConfig.ExpectedOutput, "expected-output", "", "expected output")
	cmd.Flags().StringArrayVar(&in.TaskConfig.Dimensions, "dimension", nil, "measurement dimension (repeatable)")
	cmd.Flags().StringVar(&scheduledFor, "scheduled-for", "", "RFC3339 time")
	cmd.Flags().StringVar(&recurrence, "recur", "", "recurrence frequency (daily)")
	cmd.Flags().StringVar(&recurAt, "recur-at", "", "recurrence time HH:MM (UTC)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func actionListCmd() *cobra.Command {
	var f repo.ActionFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if f.AgentID != "" {
					if _, err := a.Engine.GetAgent(ctx, currentUser(), f.AgentID); err != nil {
						return err
					}
				}
				actions, err := a.Engine.ListActions(ctx, currentUser(), f)
				if err != nil {
					return err
				}
				return printTable(actions, table.Row{"ID", "Title", "State", "Priority", "Type", "Scheduled"}, actionRows(actions))
			})
		},
	}
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "agent id")
	cmd.Flags().StringSliceVar(&f.States, "state", nil, "state filter (repeatable)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func actionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <action-id>",
		Short: "Show action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				action, err := a.Engine.GetAction(ctx, currentUser(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(action)
			})
		},
	}
}

func actionUpdateCmd() *cobra.Command {
	var title, description, priority, scheduledFor string
	cmd := &cobra.Command{
		Use:   "update <action-id>",
		Short: "Update action fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.ActionPatch{
				Title:        optionalString(title),
				Description:  optionalString(description),
				Priority:     optionalString(priority),
				ScheduledFor: optionalString(scheduledFor),
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				action, err := a.Engine.UpdateAction(ctx, currentUser(), args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(action)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&scheduledFor, "scheduled-for", "", "RFC3339 time")
	return cmd
}

func actionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <action-id>",
		Short: "Move an action to in_progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				action, err := a.Engine.StartAction(ctx, currentUser(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(action)
			})
		},
	}
}

func actionCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <action-id>",
		Short: "Complete an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				done, next, err := a.Engine.CompleteAction(ctx, currentUser(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"action": done, "next": next})
			})
		},
	}
}

func actionDismissCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "dismiss <action-id>",
		Short: "Dismiss an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				action, err := a.Engine.DismissAction(ctx, currentUser(), args[0], reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(action)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the action is dropped")
	return cmd
}

func actionRows(actions []domain.Action) []table.Row {
	rows := make([]table.Row, 0, len(actions))
	for _, act := range actions {
		when := ""
		if act.ScheduledFor != nil {
			when = *act.ScheduledFor
		}
		rows = append(rows, table.Row{act.ID, truncate(act.Title, 40), act.State, act.Priority, act.TaskType, when})
	}
	return rows
}
