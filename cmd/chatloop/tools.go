package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/chatloop/internal/formatter"
	"github.com/harunnryd/chatloop/internal/policy"
	"github.com/harunnryd/chatloop/internal/runtime"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools and whether they need approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		return executeWithRuntime(cmd, runtimeNeeds{}, func(ctx context.Context, c *runtime.Components) error {
			f, err := formatter.New(format)
			if err != nil {
				return err
			}
			rendered, err := f.FormatTools(c.Caps.Tools.List())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return nil
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recorded approval decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		filter := &policy.AuditFilter{}
		filter.ConversationID, _ = cmd.Flags().GetString("conversation")
		filter.ToolName, _ = cmd.Flags().GetString("tool")
		filter.Decision, _ = cmd.Flags().GetString("decision")

		return executeWithRuntime(cmd, runtimeNeeds{}, func(ctx context.Context, c *runtime.Components) error {
			entries, err := c.Caps.Audit.Query(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to query audit log: %w", err)
			}
			f, err := formatter.New(format)
			if err != nil {
				return err
			}
			rendered, err := f.FormatAudit(entries)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{toolsCmd, auditCmd} {
		c.Flags().StringP("output", "o", string(formatter.OutputFormatTable), "output format (table, json, yaml)")
		rootCmd.AddCommand(c)
	}
	auditCmd.Flags().StringP("conversation", "c", "", "only this conversation")
	auditCmd.Flags().String("tool", "", "only this tool")
	auditCmd.Flags().String("decision", "", "only this decision (requested, approved, rejected)")
}
