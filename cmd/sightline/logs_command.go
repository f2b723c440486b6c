package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sightline/internal/logging"
	"sightline/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var grep string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logging.FilePath(cfg.Paths.LogDir)
			match := logs.Contains(grep)

			result, err := logs.Tail(path, logs.TailOptions{Offset: -1, Limit: lines, Match: match})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range result.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow {
				if len(result.Lines) == 0 && result.Offset == 0 {
					fmt.Fprintf(out, "No log entries at %s\n", path)
				}
				return nil
			}
			err = logs.Follow(cmd.Context(), path, result.Offset, match, func(line string) {
				fmt.Fprintln(out, line)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&grep, "grep", "", "Only show lines containing this text")
	return cmd
}
