package assistant

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
)

const (
	homeURL   = "https://www.google.com"
	searchURL = "https://www.google.com/search"
)

// Browser opens URLs on behalf of the user. Remote surfaces use NoopBrowser
// and rely on the link in the reply.
type Browser interface {
	Open(ctx context.Context, target string) error
}

// SystemBrowser hands the URL to the desktop opener and does not wait for it.
type SystemBrowser struct{}

func (SystemBrowser) Open(ctx context.Context, target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", target)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", target)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", target)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

type NoopBrowser struct{}

func (NoopBrowser) Open(context.Context, string) error { return nil }

// SearchURL builds the web search link for term, spaces as '+'.
func SearchURL(term string) string {
	q := url.Values{}
	q.Set("q", strings.TrimSpace(term))
	return searchURL + "?" + q.Encode()
}
