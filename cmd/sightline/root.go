package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var (
		apiFlag    string
		tokenFlag  string
		configFlag string
		jsonFlag   bool
	)

	ctx := newCommandContext(&apiFlag, &tokenFlag, &configFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "sightline",
		Short:         "Sightline capture and analysis CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "Daemon API address (defaults to api.bind)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Daemon API bearer token (defaults to api.token)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print raw JSON responses")

	rootCmd.AddCommand(
		newDaemonCommand(ctx),
		newStatusCommand(ctx),
		newQueueCommand(ctx),
		newBatchCommand(ctx),
		newCaptureCommand(ctx),
		newHistoryCommand(ctx),
		newOfflineCommand(ctx),
		newConfigCommand(ctx),
		newDoctorCommand(ctx),
		newLogsCommand(ctx),
		newTestNotifyCommand(ctx),
	)

	return rootCmd
}
