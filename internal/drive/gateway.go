package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Jmendoza-user/drivesync/internal/backoff"
)

const (
	defaultBaseURL   = "https://www.googleapis.com/drive/v3"
	defaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
	userAgent        = "drivesync/0.1"

	// listPageSize is the page size for folder listings.
	listPageSize = 100

	// defaultQPS bounds outbound request rate so a large batch cannot
	// exhaust the per-user quota before backoff even kicks in.
	defaultQPS   = 8
	defaultBurst = 4

	fileFields = "id,name,mimeType,size,md5Checksum,webViewLink,webContentLink,trashed,parents"
)

// TokenSource provides bearer tokens for the remote account. Defined
// at the consumer per "accept interfaces, return structs"; the auth
// package provides the real implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ForceRefresher is optionally implemented by token sources that can
// discard a cached access token. The gateway uses it for lazy
// stale-token detection: one forced refresh and retry when the very
// first call comes back 401.
type ForceRefresher interface {
	ForceRefresh(ctx context.Context) error
}

// Gateway is a typed client for the cloud drive API. All operations
// run behind the backoff executor and the rate limiter.
type Gateway struct {
	baseURL    string
	uploadURL  string
	httpClient *http.Client
	token      TokenSource
	exec       *backoff.Executor
	limiter    *rate.Limiter
	logger     *slog.Logger

	// authRetried is set after the one-time 401 refresh-and-retry so
	// later auth failures surface instead of looping.
	authRetried bool
}

// NewGateway creates a Gateway for one remote account.
func NewGateway(httpClient *http.Client, token TokenSource, exec *backoff.Executor, logger *slog.Logger) *Gateway {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		baseURL:    defaultBaseURL,
		uploadURL:  defaultUploadURL,
		httpClient: httpClient,
		token:      token,
		exec:       exec,
		limiter:    rate.NewLimiter(rate.Limit(defaultQPS), defaultBurst),
		logger:     logger,
	}
}

// SetBaseURLs points the gateway at a different API host. Tests use
// this with httptest servers.
func (g *Gateway) SetBaseURLs(base, upload string) {
	g.baseURL = base
	g.uploadURL = upload
}

// do executes one authenticated request and returns the response on
// any 2xx status. Non-2xx responses are drained and converted to an
// *APIError. A 401 on the first failing call forces one token refresh
// and a single retry (stale tokens are detected lazily).
func (g *Gateway) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("drive: rate limit wait: %w", err)
		}

		tok, err := g.token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("drive: obtaining token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("User-Agent", userAgent)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("drive: %s %s: %w", req.Method, req.URL.Path, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		apiErr := readAPIError(resp)

		if apiErr.StatusCode == http.StatusUnauthorized && !g.authRetried {
			g.authRetried = true
			if fr, ok := g.token.(ForceRefresher); ok {
				g.logger.Warn("unauthorized response, forcing token refresh",
					slog.String("path", req.URL.Path),
				)

				if refreshErr := fr.ForceRefresh(ctx); refreshErr != nil {
					return nil, fmt.Errorf("drive: refresh after 401: %w", refreshErr)
				}

				if req.GetBody != nil {
					body, bodyErr := req.GetBody()
					if bodyErr != nil {
						return nil, fmt.Errorf("drive: rewinding request body: %w", bodyErr)
					}

					req.Body = body
				}

				continue
			}
		}

		return nil, apiErr
	}
}

// readAPIError drains an error response into an *APIError.
func readAPIError(resp *http.Response) *APIError {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		body = []byte("(failed to read response body)")
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    string(body),
		Err:        classifyStatus(resp.StatusCode),
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, convErr := strconv.Atoi(ra); convErr == nil && seconds > 0 {
			apiErr.retryAfter = time.Duration(seconds) * time.Second
		}
	}

	return apiErr
}

// getJSON performs a GET and decodes the JSON body into out.
func (g *Gateway) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("drive: creating request: %w", err)
	}

	resp, err := g.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("drive: decoding response: %w", err)
	}

	return nil
}

// postJSON performs a request with a JSON body and decodes the JSON
// response into out (when out is non-nil).
func (g *Gateway) postJSON(ctx context.Context, method, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("drive: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("drive: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := g.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("drive: decoding response: %w", err)
	}

	return nil
}
