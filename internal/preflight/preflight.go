package preflight

import (
	"context"
	"fmt"
	"strings"

	"sightline/internal/config"
	"sightline/internal/remote"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Required bool   `json:"required"`
	Detail   string `json:"detail"`
}

// Options supplies the collaborators used by network checks.
type Options struct {
	HTTP        remote.HTTPDoer
	Credentials remote.CredentialProvider
}

// RunAll executes every preflight check for cfg.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		required(CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)),
		required(CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)),
		CheckBackend(ctx, opts.HTTP, cfg.BackendURL(cfg.Backend.HealthPath)),
		CheckCredentials(ctx, opts.Credentials),
	}

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, Result{Name: "Notifications", Passed: true, Detail: cfg.Notifications.NtfyTopic})
	} else {
		results = append(results, Result{Name: "Notifications", Passed: true, Detail: "Disabled"})
	}
	return results
}

// RequiredFailure returns an error listing every failed required check, or nil.
func RequiredFailure(results []Result) error {
	var failed []string
	for _, r := range results {
		if r.Required && !r.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(failed, "; "))
}

func required(r Result) Result {
	r.Required = true
	return r
}
