package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"agentline/internal/app"
	"agentline/internal/engine"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Manage agents"}
	cmd.AddCommand(agentCreateCmd())
	cmd.AddCommand(agentListCmd())
	cmd.AddCommand(agentShowCmd())
	cmd.AddCommand(agentUpdateCmd())
	return cmd
}

func agentCreateCmd() *cobra.Command {
	var in engine.NewAgent
	noNotes := false
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Capabilities.Notes = !noNotes
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agent, err := a.Engine.CreateAgent(ctx, currentUser(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(agent)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "agent name")
	cmd.Flags().StringVar(&in.Goal, "goal", "", "goal statement")
	cmd.Flags().StringArrayVar(&in.SuccessCriteria, "criterion", nil, "success criterion (repeatable)")
	cmd.Flags().StringVar(&in.Timeline, "timeline", "", "timeline, e.g. \"3 months\"")
	cmd.Flags().BoolVar(&in.Capabilities.Filesystem, "filesystem", false, "allow sandboxed file tools")
	cmd.Flags().BoolVar(&noNotes, "no-notes", false, "disable note tools")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agents, err := a.Engine.ListAgents(ctx, currentUser())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(agents))
				for _, ag := range agents {
					rows = append(rows, table.Row{
						ag.ID, ag.Name, ag.Status,
						fmt.Sprintf("%d/%d", ag.Metrics.CompletedActions, ag.Metrics.TotalActions),
						fmt.Sprintf("$%.4f", ag.Metrics.CostUSD),
						truncate(ag.Goal, 48),
					})
				}
				return printTable(agents, table.Row{"ID", "Name", "Status", "Done", "Cost", "Goal"}, rows)
			})
		},
	}
}

func agentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agent, err := a.Engine.GetAgent(ctx, currentUser(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(agent)
			})
		},
	}
}

func agentUpdateCmd() *cobra.Command {
	var name, goal, timeline, status string
	var criteria []string
	cmd := &cobra.Command{
		Use:   "update <agent-id>",
		Short: "Update agent fields or status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.AgentPatch{
				Name:     optionalString(name),
				Goal:     optionalString(goal),
				Timeline: optionalString(timeline),
				Status:   optionalString(status),
			}
			if cmd.Flags().Changed("criterion") {
				patch.SuccessCriteria = &criteria
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agent, err := a.Engine.UpdateAgent(ctx, currentUser(), args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(agent)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&goal, "goal", "", "goal statement")
	cmd.Flags().StringVar(&timeline, "timeline", "", "timeline")
	cmd.Flags().StringVar(&status, "status", "", "active, paused or archived")
	cmd.Flags().StringArrayVar(&criteria, "criterion", nil, "replace success criteria (repeatable)")
	return cmd
}
