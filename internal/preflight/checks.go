package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"sightline/internal/remote"
)

const backendCheckTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBackend issues one GET against healthURL. Any HTTP answer counts as
// reachable; only transport failures fail the check.
func CheckBackend(ctx context.Context, doer remote.HTTPDoer, healthURL string) Result {
	const name = "Backend"
	if doer == nil {
		doer = &http.Client{Timeout: backendCheckTimeout}
	}

	checkCtx, cancel := context.WithTimeout(ctx, backendCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid health url (%v)", err)}
	}
	resp, err := doer.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeTransportError(err, healthURL)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < http.StatusBadRequest:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", healthURL)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (authentication required)", healthURL)}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (status %d)", healthURL, resp.StatusCode)}
	}
}

// CheckCredentials reports whether a usable backend token is available. A nil
// provider means requests are sent unauthenticated.
func CheckCredentials(ctx context.Context, provider remote.CredentialProvider) Result {
	const name = "Credentials"
	if provider == nil {
		return Result{Name: name, Passed: true, Detail: "None configured (unauthenticated)"}
	}
	if _, ok := provider.Token(ctx); ok {
		return Result{Name: name, Passed: true, Detail: "Access token valid"}
	}
	return Result{Name: name, Detail: "No valid access token; a refresh is attempted on the first request"}
}

func summarizeTransportError(err error, target string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s timed out", target)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("%s timed out", target)
	}
	return fmt.Sprintf("%s unreachable (%v)", target, err)
}
