package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ktulhu-ai/ktulhu/internal/fileutil"
)

var (
	historyJSON   bool
	historyOutput string
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history CHAT_ID",
	Short: "Print the stored messages of a chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print messages as JSON")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "", "Export messages as JSON to this file")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a := newApp(cfg)
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	msgs := a.resolver.LoadThread(ctx, args[0])
	if historyOutput != "" {
		if err := fileutil.WriteJSONAtomic(historyOutput, msgs, 0o644); err != nil {
			return fmt.Errorf("export %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "💾 Exported %d messages to %s\n", len(msgs), historyOutput)
		return nil
	}
	if historyJSON {
		return writeJSON(cmd.OutOrStdout(), msgs)
	}
	printThread(cmd.OutOrStdout(), msgs)
	return nil
}
