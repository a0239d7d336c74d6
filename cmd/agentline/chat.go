package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentline/internal/app"
	"agentline/internal/domain"
	"agentline/internal/orchestrator"
)

func chatCmd() *cobra.Command {
	var actionID, batchID, sessionID, message string
	cmd := &cobra.Command{
		Use:   "chat <agent-id>",
		Short: "Talk to an agent",
		Long: `Runs conversation turns against an agent with the configured model.
With --message a single turn runs; otherwise lines are read from stdin until EOF.
Drafted actions are printed but not saved; use 'agentline action define' to keep one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rt, err := a.Orchestrator(ctx, version)
				if err != nil {
					return err
				}
				var history []orchestrator.HistoryMessage
				turn := func(text string) error {
					res, err := rt.Orchestrator.Chat(ctx, orchestrator.TurnRequest{
						UserID:        currentUser(),
						AgentID:       args[0],
						SessionID:     sessionID,
						ActionID:      actionID,
						ReviewBatchID: batchID,
						History:       history,
						Message:       text,
					})
					if err != nil {
						return err
					}
					history = append(history,
						orchestrator.HistoryMessage{Role: "user", Content: text},
						orchestrator.HistoryMessage{Role: "assistant", Content: res.Reply},
					)
					return printTurn(res)
				}
				if message != "" {
					return turn(message)
				}
				return readLines(os.Stdin, func(line string) error {
					err := turn(line)
					var te *orchestrator.TurnError
					if errors.As(err, &te) && te.Kind != orchestrator.KindAccessDenied {
						fmt.Fprintln(os.Stderr, "turn failed:", te.UserMessage)
						return nil
					}
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "single message to send")
	cmd.Flags().StringVar(&actionID, "action", "", "focus the turn on this action")
	cmd.Flags().StringVar(&batchID, "review-batch", "", "draft batch to review")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (defaults to a new one)")
	return cmd
}

func onboardCmd() *cobra.Command {
	var create, filesystem bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Set up a new agent through a goal conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rt, err := a.Orchestrator(ctx, version)
				if err != nil {
					return err
				}
				var history []orchestrator.HistoryMessage
				errDone := errors.New("done")
				err = readLines(os.Stdin, func(line string) error {
					res, err := rt.Orchestrator.Onboard(ctx, orchestrator.OnboardRequest{
						UserID:  currentUser(),
						History: history,
						Message: line,
					})
					if err != nil {
						return err
					}
					history = append(history,
						orchestrator.HistoryMessage{Role: "user", Content: line},
						orchestrator.HistoryMessage{Role: "assistant", Content: res.Reply},
					)
					if !res.Ready {
						fmt.Println(res.Reply)
						return nil
					}
					if !create {
						return printJSONOrTable(res)
					}
					agent, err := a.Engine.CreateAgentFromProposal(ctx, currentUser(), *res.Proposal,
						domain.Capabilities{Notes: true, Filesystem: filesystem})
					if err != nil {
						return err
					}
					if err := printJSONOrTable(agent); err != nil {
						return err
					}
					return errDone
				})
				if errors.Is(err, errDone) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create the agent once a goal is agreed")
	cmd.Flags().BoolVar(&filesystem, "filesystem", false, "allow sandboxed file tools on the created agent")
	return cmd
}

func readLines(r io.Reader, fn func(string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if !viper.GetBool("json") {
		fmt.Print("> ")
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			if err := fn(line); err != nil {
				return err
			}
		}
		if !viper.GetBool("json") {
			fmt.Print("> ")
		}
	}
	return scanner.Err()
}

func printTurn(res orchestrator.TurnResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if res.Reply != "" {
		fmt.Println(res.Reply)
	}
	for _, t := range res.Tools {
		if t.Error != "" {
			fmt.Printf("  [tool %s failed: %s]\n", t.Name, t.Error)
			continue
		}
		fmt.Printf("  [tool %s]\n", t.Name)
	}
	switch {
	case res.ActionDraft != nil:
		fmt.Printf("  [draft action %s: %s (%s)]\n", res.ActionDraft.ID, res.ActionDraft.Title, res.ActionDraft.TaskType)
	case res.Asset != nil:
		fmt.Printf("  [asset %q, %d chars]\n", res.Asset.Title, len(res.Asset.Content))
	case res.Measurement != nil:
		fmt.Printf("  [measurement %s recorded]\n", res.Measurement.ID)
	}
	if res.CompletedAction != nil {
		fmt.Printf("  [completed %s]\n", res.CompletedAction.ID)
	}
	if res.NextAction != nil {
		fmt.Printf("  [next occurrence %s]\n", res.NextAction.ID)
	}
	fmt.Printf("  (%d in / %d out tokens, $%.5f)\n", res.InputTokens, res.OutputTokens, res.CostUSD)
	return nil
}
