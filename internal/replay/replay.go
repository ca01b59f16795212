// Package replay re-invokes deferred requests against the real handler
// tier once the consumer picks them up.
package replay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kbyunghoon/ticket-service/internal/backpressure"
)

// TokenHeader marks a request as a replay so the admission filter lets it
// straight through instead of deferring it again.
const TokenHeader = "X-Requeue-Token"

// hopByHopHeaders are connection-specific and must not be copied onto the
// replayed request.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
	"Host":                true,
}

// HTTPReplayer replays deferred requests over HTTP against a base URL.
type HTTPReplayer struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPReplayer targets baseURL (scheme://host[:port]) with a sane
// default timeout.
func NewHTTPReplayer(baseURL string) *HTTPReplayer {
	return &HTTPReplayer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Process rebuilds the original request (method, path, query, body, and
// non-connection headers), tags it with the replay token and sends it.
// Any non-2xx status is a failed replay.
func (r *HTTPReplayer) Process(ctx context.Context, token string, msg backpressure.Message) error {
	target := r.BaseURL + msg.Endpoint
	if len(msg.QueryParams) > 0 {
		q := url.Values{}
		for k, v := range msg.QueryParams {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}

	var body io.Reader
	if msg.Body != "" {
		body = strings.NewReader(msg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, msg.Method, target, body)
	if err != nil {
		return fmt.Errorf("build replay request: %w", err)
	}
	for k, v := range msg.Headers {
		if hopByHopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		req.Header.Set(k, v)
	}
	req.Header.Set(TokenHeader, token)

	cli := r.Client
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(req)
	if err != nil {
		return fmt.Errorf("replay %s %s: %w", msg.Method, msg.Endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("replay %s %s: status %d", msg.Method, msg.Endpoint, resp.StatusCode)
	}
	return nil
}
