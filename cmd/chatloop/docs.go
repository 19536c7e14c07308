package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/chatloop/internal/runtime"

	"github.com/spf13/cobra"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage the document search index",
}

var docsIndexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Embed markdown and text files into the document index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWithRuntime(cmd, runtimeNeeds{models: true}, func(ctx context.Context, c *runtime.Components) error {
			index, err := c.Caps.OpenDocuments(c.Config)
			if err != nil {
				return fmt.Errorf("failed to open document index: %w", err)
			}
			added, err := index.AddPath(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to index %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Indexed %d chunk(s); collection holds %d\n", added, index.Count())
			return nil
		})
	},
}

var docsSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Query the document index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		top, _ := cmd.Flags().GetInt("top")

		return executeWithRuntime(cmd, runtimeNeeds{models: true}, func(ctx context.Context, c *runtime.Components) error {
			index, err := c.Caps.OpenDocuments(c.Config)
			if err != nil {
				return fmt.Errorf("failed to open document index: %w", err)
			}
			hits, err := index.Search(ctx, args[0], top)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(out, "%.3f  %s#%d\n    %s\n", h.Score, h.File, h.Chunk, firstLine(h.Content))
			}
			return nil
		})
	},
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func init() {
	docsSearchCmd.Flags().Int("top", 5, "number of results")
	docsCmd.AddCommand(docsIndexCmd)
	docsCmd.AddCommand(docsSearchCmd)
	rootCmd.AddCommand(docsCmd)
}
