package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/chatloop/internal/formatter"
	"github.com/harunnryd/chatloop/internal/runtime"

	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints [conversation]",
	Short: "List conversations or a conversation's checkpoint history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		return executeWithRuntime(cmd, runtimeNeeds{store: true}, func(ctx context.Context, c *runtime.Components) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				convs, err := c.Store.Conversations(ctx)
				if err != nil {
					return fmt.Errorf("failed to list conversations: %w", err)
				}
				if len(convs) == 0 {
					fmt.Fprintln(out, "No conversations found.")
					fmt.Fprintln(out, "\nRun 'chatloop chat' to start one.")
					return nil
				}
				for _, id := range convs {
					fmt.Fprintf(out, "- %s\n", id)
				}
				fmt.Fprintf(out, "\nTotal: %d conversation(s)\n", len(convs))
				return nil
			}

			history, err := c.Store.List(ctx, args[0])
			if err != nil {
				return err
			}
			f, err := formatter.New(format)
			if err != nil {
				return err
			}
			rendered, err := f.FormatCheckpoints(history)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rendered)
			return nil
		})
	},
}

var checkpointsPruneCmd = &cobra.Command{
	Use:   "prune [conversation]",
	Short: "Drop all but the newest checkpoints of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")

		return executeWithRuntime(cmd, runtimeNeeds{store: true}, func(ctx context.Context, c *runtime.Components) error {
			removed, err := c.Store.Prune(ctx, args[0], keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d checkpoint(s) from %s\n", removed, args[0])
			return nil
		})
	},
}

func outputFormat(cmd *cobra.Command) (formatter.OutputFormat, error) {
	raw, _ := cmd.Flags().GetString("output")
	return formatter.ParseOutputFormat(raw)
}

func init() {
	checkpointsCmd.Flags().StringP("output", "o", string(formatter.OutputFormatTable), "output format (table, json, yaml)")
	checkpointsPruneCmd.Flags().Int("keep", 1, "number of newest checkpoints to keep")
	checkpointsCmd.AddCommand(checkpointsPruneCmd)
	rootCmd.AddCommand(checkpointsCmd)
}
