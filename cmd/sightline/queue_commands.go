package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sightline/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue and manage analysis tasks",
	}

	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))

	return queueCmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var params []string
	var fromFile string
	var allowDuplicate bool

	cmd := &cobra.Command{
		Use:   "add [url...]",
		Short: "Queue one URL as a task, or several as a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := append([]string(nil), args...)
			if fromFile != "" {
				fileURLs, err := readURLList(cmd.InOrStdin(), fromFile)
				if err != nil {
					return err
				}
				urls = append(urls, fileURLs...)
			}
			if len(urls) == 0 {
				return errors.New("at least one url is required")
			}
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *api.Client) error {
				out := cmd.OutOrStdout()
				if len(urls) == 1 {
					resp, err := client.QueueURL(cmd.Context(), api.QueueTaskRequest{
						URL:            urls[0],
						Params:         parsed,
						AllowDuplicate: allowDuplicate,
					})
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, resp)
					}
					fmt.Fprintf(out, "Queued task %s\n", resp.TaskID)
					return nil
				}
				resp, err := client.QueueBatch(cmd.Context(), api.QueueBatchRequest{
					URLs:           urls,
					Params:         parsed,
					AllowDuplicate: allowDuplicate,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(out, "Queued batch %s with %d tasks\n", resp.Batch.ID, len(resp.Batch.TaskIDs))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Analysis parameter as key=value (repeatable)")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Read URLs from a file, one per line (- for stdin)")
	cmd.Flags().BoolVar(&allowDuplicate, "allow-duplicate", false, "Create a new task even if the URL is already queued")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Tasks(cmd.Context(), all)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Tasks) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Status", "Attempts", "URL", "Updated"},
					taskRows(resp.Tasks), 2,
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include completed and failed tasks")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Task(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				printTask(cmd.OutOrStdout(), resp.Task)
				return nil
			})
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel an active task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if _, err := client.CancelTask(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled task %s\n", args[0])
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Retry a failed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if _, err := client.RetryTask(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s returned to pending\n", args[0])
				return nil
			})
		},
	}
}

func taskRows(tasks []api.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			shortID(t.ID),
			displayLabel(t.Status),
			strconv.Itoa(t.Attempts),
			truncate(t.URL, 60),
			t.UpdatedAt,
		})
	}
	return rows
}

func printTask(out io.Writer, t api.Task) {
	colorize := shouldColorize(out)
	fmt.Fprintf(out, "Task %s\n", t.ID)
	fmt.Fprintln(out, renderStatusLine("Status", taskKind(t.Status), displayLabel(t.Status), colorize))
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "URL:", t.URL)
	fmt.Fprintf(out, "%s%-*s %d\n", statusIndent, statusLabelWidth, "Attempts:", t.Attempts)
	if t.BatchID != "" {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Batch:", t.BatchID)
	}
	if t.JobID != "" {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Job:", t.JobID)
	}
	if t.LastError != "" {
		fmt.Fprintf(out, "%s%-*s %s (%s)\n", statusIndent, statusLabelWidth, "Last error:", t.LastError, t.ErrorKind)
	}
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Cancelled:", yesNo(t.Cancelled))
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Created:", t.CreatedAt)
	if t.CompletedAt != "" {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Completed:", t.CompletedAt)
	}
	if len(t.Result) > 0 {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Result:", truncate(string(t.Result), 200))
	}
}

func parseParams(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q: expected key=value", value)
		}
		out[key] = strings.TrimSpace(val)
	}
	return out, nil
}

func readURLList(stdin io.Reader, path string) ([]string, error) {
	var reader io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open url list: %w", err)
		}
		defer f.Close()
		reader = f
	}
	var urls []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}
