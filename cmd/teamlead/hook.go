package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/teamlead/internal/config"
	"github.com/ShayCichocki/teamlead/internal/runtime"
)

var hookCmd = &cobra.Command{
	Use:   "hook <event>",
	Short: "Forward a runtime hook to the supervisor",
	Long: `Forward a hook payload from the runtime to a running supervisor.

The payload is read from stdin and posted to the supervisor named by
TEAMLEAD_URL. The reply body is written to stdout so permission decisions
reach the runtime. Failures are reported on stderr only; the command always
exits 0 so a missing supervisor never breaks the agent.`,
	Args: cobra.ExactArgs(1),
	// The runtime invokes hooks outside any configured environment.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	PersistentPostRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		base := os.Getenv(runtime.EnvServerURL)
		if base == "" {
			base = config.Default().Server.URL()
		}
		err := forwardHook(cmd.Context(), http.DefaultClient, base, args[0],
			os.Getenv(runtime.EnvSessionID), cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "teamlead hook %s: %v\n", args[0], err)
		}
	},
}

// forwardHook posts one hook payload and copies the reply to out. Permission
// hooks block until the operator decides, so the request has no timeout.
func forwardHook(ctx context.Context, client *http.Client, base, event, sessionID string, in io.Reader, out io.Writer) error {
	endpoint := strings.TrimRight(base, "/") + "/hooks/" + url.PathEscape(event)
	if sessionID != "" {
		endpoint += "?session=" + url.QueryEscape(sessionID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, in)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post hook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("supervisor replied %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	return nil
}
