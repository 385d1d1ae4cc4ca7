package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	summariesJSON   bool
	summariesDevice string
)

// summariesCmd represents the summaries command
var summariesCmd = &cobra.Command{
	Use:     "summaries",
	Aliases: []string{"chats"},
	Short:   "List the stored chats of this device",
	Args:    cobra.NoArgs,
	RunE:    runSummaries,
}

func init() {
	rootCmd.AddCommand(summariesCmd)
	summariesCmd.Flags().BoolVar(&summariesJSON, "json", false, "Print the list as JSON")
	summariesCmd.Flags().StringVar(&summariesDevice, "device", "", "List chats of this device hash instead")
}

func runSummaries(cmd *cobra.Command, args []string) error {
	a := newApp(cfg)
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	device := summariesDevice
	if device == "" {
		device = a.sessions.Current().DeviceHash
	}
	list := a.resolver.LoadSummaries(ctx, device)
	if summariesJSON {
		return writeJSON(cmd.OutOrStdout(), list)
	}
	printSummaries(cmd.OutOrStdout(), list)
	return nil
}
