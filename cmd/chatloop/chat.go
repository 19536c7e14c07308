package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/harunnryd/chatloop/internal/agent"
	"github.com/harunnryd/chatloop/internal/conversation"
	"github.com/harunnryd/chatloop/internal/logger"
	"github.com/harunnryd/chatloop/internal/model/contract"
	"github.com/harunnryd/chatloop/internal/runtime"
	"github.com/harunnryd/chatloop/internal/stream"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the agent in the terminal",
	Long: `Runs turns locally against the configured checkpoint store. With a message
argument a single turn runs; without one an interactive session starts and
gated tool calls are confirmed at the prompt.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, _ := cmd.Flags().GetString("conversation")
		checkpointID, _ := cmd.Flags().GetString("checkpoint")
		if strings.TrimSpace(conv) == "" {
			conv = ulid.Make().String()
		}

		return executeWithRuntime(cmd, runtimeNeeds{models: true, store: true}, func(ctx context.Context, c *runtime.Components) error {
			s := &chatSession{
				turns:          c.Turns,
				conversationID: conv,
				checkpointID:   checkpointID,
				in:             bufio.NewReader(cmd.InOrStdin()),
				out:            cmd.OutOrStdout(),
			}
			fmt.Fprintf(s.out, "Conversation: %s\n", conv)

			if len(args) == 1 {
				_, err := s.send(ctx, args[0])
				return err
			}
			return s.repl(ctx)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Answer a pending approval",
	Long:  `Resumes a conversation suspended on gated tool calls. Calls not listed are treated as rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, _ := cmd.Flags().GetString("conversation")
		checkpointID, _ := cmd.Flags().GetString("checkpoint")
		approve, _ := cmd.Flags().GetStringSlice("approve")
		reject, _ := cmd.Flags().GetStringSlice("reject")

		decisions := buildDecisions(approve, reject)

		return executeWithRuntime(cmd, runtimeNeeds{models: true, store: true}, func(ctx context.Context, c *runtime.Components) error {
			s := &chatSession{turns: c.Turns, conversationID: conv, checkpointID: checkpointID, out: cmd.OutOrStdout()}
			events, err := c.Turns.Runner.Resume(turnContext(ctx, conv), conv, checkpointID, decisions)
			if err != nil {
				return err
			}
			_, err = s.render(ctx, events)
			return err
		})
	},
}

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Continue a turn that stopped mid-way",
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, _ := cmd.Flags().GetString("conversation")
		checkpointID, _ := cmd.Flags().GetString("checkpoint")

		return executeWithRuntime(cmd, runtimeNeeds{models: true, store: true}, func(ctx context.Context, c *runtime.Components) error {
			s := &chatSession{turns: c.Turns, conversationID: conv, checkpointID: checkpointID, out: cmd.OutOrStdout()}
			events, err := c.Turns.Runner.Continue(turnContext(ctx, conv), conv, checkpointID)
			if err != nil {
				return err
			}
			_, err = s.render(ctx, events)
			return err
		})
	},
}

type chatSession struct {
	turns          *runtime.Turns
	conversationID string
	checkpointID   string
	in             *bufio.Reader
	out            io.Writer
}

func (s *chatSession) repl(ctx context.Context) error {
	fmt.Fprintln(s.out, "Type '/exit' to quit.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(s.out, "> ")
		line, err := s.in.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/exit" {
			return nil
		}

		if _, err := s.send(ctx, line); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// send runs one user turn and, when a reader is attached, walks the
// approval prompts until the turn settles for good.
func (s *chatSession) send(ctx context.Context, text string) (stream.Result, error) {
	msg := contract.Message{Role: "user", Content: text}
	events, err := s.turns.Runner.Start(turnContext(ctx, s.conversationID), s.conversationID, s.checkpointID, msg)
	if err != nil {
		return stream.Result{}, err
	}
	result, sink := s.renderWithSink(ctx, events)

	for result.Outcome == stream.OutcomeInterrupted && s.in != nil {
		pending := sink.takePending()
		if pending == nil {
			break
		}
		decisions, err := s.ask(pending)
		if err != nil {
			return result, err
		}
		events, err := s.turns.Runner.Resume(turnContext(ctx, s.conversationID), s.conversationID, s.checkpointID, decisions)
		if err != nil {
			return result, err
		}
		result, sink = s.renderWithSink(ctx, events)
	}
	return result, nil
}

func (s *chatSession) ask(pending *conversation.PendingApproval) ([]conversation.ApprovalDecision, error) {
	raw := make([]agent.RawDecision, 0, len(pending.Calls))
	for _, call := range pending.Calls {
		fmt.Fprintf(s.out, "Run %s (%s)? [y/N] ", call.Name, call.ID)
		answer, err := s.in.ReadString('\n')
		if err != nil && answer == "" {
			return nil, err
		}
		decision := string(conversation.DecisionRejected)
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			decision = string(conversation.DecisionApproved)
		}
		raw = append(raw, agent.RawDecision{ID: call.ID, Decision: decision})
	}
	return agent.ParseDecisions(raw), nil
}

func (s *chatSession) render(ctx context.Context, events <-chan agent.Event) (stream.Result, error) {
	result, _ := s.renderWithSink(ctx, events)
	if result.Outcome == stream.OutcomeFailed {
		return result, fmt.Errorf("turn failed")
	}
	return result, nil
}

// renderWithSink drains events so the runner always finishes its snapshot
// write before the store is closed.
func (s *chatSession) renderWithSink(ctx context.Context, events <-chan agent.Event) (stream.Result, *terminalSink) {
	sink := newTerminalSink(s.out)
	result := s.turns.Translator.Run(ctx, events, sink)
	for range events {
	}
	if result.CheckpointID != "" {
		s.checkpointID = result.CheckpointID
	}
	return result, sink
}

func buildDecisions(approve, reject []string) []conversation.ApprovalDecision {
	raw := make([]agent.RawDecision, 0, len(approve)+len(reject))
	for _, id := range approve {
		raw = append(raw, agent.RawDecision{ID: id, Decision: string(conversation.DecisionApproved)})
	}
	for _, id := range reject {
		raw = append(raw, agent.RawDecision{ID: id, Decision: string(conversation.DecisionRejected)})
	}
	return agent.ParseDecisions(raw)
}

func turnContext(ctx context.Context, conversationID string) context.Context {
	ctx = logger.WithTraceID(ctx, ulid.Make().String())
	return logger.WithConversationID(ctx, conversationID)
}

func init() {
	for _, c := range []*cobra.Command{chatCmd, resumeCmd, continueCmd} {
		c.Flags().StringP("conversation", "c", "", "conversation id")
		c.Flags().String("checkpoint", "", "checkpoint id to branch from (default latest)")
		rootCmd.AddCommand(c)
	}
	resumeCmd.Flags().StringSlice("approve", nil, "tool call ids to approve")
	resumeCmd.Flags().StringSlice("reject", nil, "tool call ids to reject")
	_ = resumeCmd.MarkFlagRequired("conversation")
	_ = continueCmd.MarkFlagRequired("conversation")
}
