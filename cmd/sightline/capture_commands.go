package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"sightline/internal/api"
)

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	captureCmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture pages into the backend",
	}

	captureCmd.AddCommand(&cobra.Command{
		Use:   "tab <tab-id>",
		Short: "Capture an open tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := strconv.Atoi(args[0])
			if err != nil || tabID < 0 {
				return fmt.Errorf("invalid tab id %q", args[0])
			}
			return ctx.withClient(func(client *api.Client) error {
				result, err := client.CaptureTab(cmd.Context(), tabID)
				return printCaptureResult(cmd, ctx, result, err)
			})
		},
	})

	captureCmd.AddCommand(&cobra.Command{
		Use:   "active",
		Short: "Capture the active tab",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				result, err := client.CaptureActive(cmd.Context())
				return printCaptureResult(cmd, ctx, result, err)
			})
		},
	})

	captureCmd.AddCommand(newCaptureURLCommand(ctx))
	return captureCmd
}

func newCaptureURLCommand(ctx *commandContext) *cobra.Command {
	var title string
	var source string
	cmd := &cobra.Command{
		Use:   "url <url>",
		Short: "Capture a page that is not open in a tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				result, err := client.CaptureURL(cmd.Context(), api.CaptureURLRequest{
					URL:    args[0],
					Title:  title,
					Source: source,
				})
				return printCaptureResult(cmd, ctx, result, err)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Page title to record")
	cmd.Flags().StringVar(&source, "source", "bookmark", "Capture source (bookmark, history, recovered)")
	return cmd
}

func printCaptureResult(cmd *cobra.Command, ctx *commandContext, result *api.CaptureResult, err error) error {
	if err != nil {
		return err
	}
	if ctx.jsonOutput() {
		return writeJSON(cmd, result)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderStatusLine("Capture", taskKind(result.Outcome), displayLabel(result.Outcome), shouldColorize(out)))
	writeDetail(out, "URL:", result.URL)
	writeDetail(out, "Capture ID:", result.CaptureID)
	writeDetail(out, "Task ID:", result.TaskID)
	writeDetail(out, "Error:", result.Error)
	return nil
}

func writeDetail(out io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, label, value)
}
