package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 4 << 20
	maxExcerptBytes  = 200
)

// Exchange is one outbound JSON POST.
type Exchange struct {
	Client  *http.Client
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Post performs the exchange once under its timeout and classifies transport
// failures. When ok is false, failure carries the classified Result and body
// is nil.
func Post(ctx context.Context, ex Exchange) (body []byte, failure Result, ok bool) {
	client := ex.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := ex.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ex.URL, bytes.NewReader(ex.Body))
	if err != nil {
		return nil, Remote(0, fmt.Sprintf("build request: %v", err)), false
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range ex.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, TimedOut(), false
		}
		return nil, Remote(0, transportDetail(err)), false
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, TimedOut(), false
		}
		return nil, Remote(0, fmt.Sprintf("read response body: %v", err)), false
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, Remote(resp.StatusCode, Excerpt(b)), false
	}
	return b, Result{}, true
}

// Excerpt trims a response body for inclusion in diagnostics.
func Excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxExcerptBytes {
		return s
	}
	cut := maxExcerptBytes
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// transportDetail drops the request URL from transport errors; gemini carries
// its key in the query string.
func transportDetail(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		return strings.ToLower(ue.Op) + ": " + ue.Err.Error()
	}
	return err.Error()
}
