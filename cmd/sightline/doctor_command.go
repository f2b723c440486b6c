package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"sightline/internal/daemonrun"
	"sightline/internal/logging"
	"sightline/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, backend reachability, and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			httpClient := &http.Client{Timeout: 10 * time.Second}
			results := preflight.RunAll(cmd.Context(), cfg, preflight.Options{
				HTTP:        httpClient,
				Credentials: daemonrun.CredentialProvider(cfg, httpClient, logging.NewNop()),
			})

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					state := "OK"
					switch {
					case !r.Passed && r.Required:
						state = "FAIL"
					case !r.Passed:
						state = "WARN"
					}
					rows = append(rows, []string{r.Name, state, r.Detail})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Check", "State", "Detail"}, rows))
			}

			if err := preflight.RequiredFailure(results); err != nil {
				return errors.New("one or more required checks failed")
			}
			return nil
		},
	}
}
