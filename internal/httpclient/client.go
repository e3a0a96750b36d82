package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"osprey-eyes/mindseye/internal/logging"
)

// ClientError carries a category code alongside the wrapped cause, so
// callers can branch without string matching.
type ClientError struct {
	Code    string
	Message string
	Err     error
}

func (e *ClientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ClientError) Unwrap() error { return e.Err }

const (
	ErrCodeTransport = "TRANSPORT_ERROR"
	ErrCodeProtocol  = "PROTOCOL_ERROR"
	ErrCodeHTTP      = "HTTP_ERROR"
)

// Options tunes the retry behaviour of a Client. Zero values fall back
// to the defaults the upstream was profiled with.
type Options struct {
	Timeout time.Duration

	// Status-level retry budget inside a single attempt
	MaxStatusRetries int
	RetryStatuses    map[int]bool

	// Outer budget for transport failures and malformed JSON; each of
	// these retries may rebuild the connection pool
	MaxJSONRetries int

	// Path of the pinned server certificate PEM. Empty disables pinning.
	PinnedCertPath string

	Cookies []*http.Cookie
}

func defaultRetryStatuses() map[int]bool {
	return map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}
}

// Client wraps outbound JSON POSTs with layered retries: HTTP status
// retries with exponential backoff on the inside, transport/parse
// recovery with a pool rebuild on the outside.
type Client struct {
	opts Options
	log  *zap.SugaredLogger

	mu   sync.Mutex
	http *http.Client

	certFetched bool
}

// New creates a Client. The underlying pool is built lazily so pinning
// can fetch the current certificate on first use.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxStatusRetries == 0 {
		opts.MaxStatusRetries = 5
	}
	if opts.MaxJSONRetries == 0 {
		opts.MaxJSONRetries = 2
	}
	if opts.RetryStatuses == nil {
		opts.RetryStatuses = defaultRetryStatuses()
	}
	return &Client{
		opts: opts,
		log:  logging.WithComponent("httpclient"),
	}
}

// PostJSON posts payload to rawURL and returns the parsed body. A nil
// RawMessage with nil error means the server replied with an empty
// body, which the upstream uses as a no-content success.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ClientError{Code: ErrCodeProtocol, Message: "failed to marshal request body", Err: err}
	}

	hostname := ""
	if u, err := url.Parse(rawURL); err == nil {
		hostname = u.Hostname()
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxJSONRetries; attempt++ {
		raw, err := c.doWithStatusRetries(ctx, rawURL, body)
		if err == nil {
			if len(raw) == 0 {
				return nil, nil
			}
			if json.Valid(raw) {
				return raw, nil
			}
			lastErr = &ClientError{Code: ErrCodeProtocol, Message: "response is not valid JSON"}
			c.log.Errorw("Failed to parse JSON response", "url", rawURL, "attempt", attempt+1)
		} else {
			lastErr = err

			if isCertError(err) && c.opts.PinnedCertPath != "" && !c.certFetched {
				c.log.Warnw("Certificate verification failed, refreshing pinned cert", "host", hostname)
				if ferr := fetchAndStoreCert(hostname, c.opts.PinnedCertPath); ferr != nil {
					c.log.Errorw("Failed to refresh pinned certificate", "error", ferr.Error())
				}
				c.certFetched = true
				c.rebuildPool()
				continue
			}

			c.log.Errorw("Request failed", "url", rawURL, "attempt", attempt+1, "error", err.Error())
			// Suspect a stale socket: throw the whole pool away
			c.rebuildPool()
		}

		if attempt < c.opts.MaxJSONRetries {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			c.log.Infow("Backing off before retry", "delay", delay.String())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	c.log.Errorw("Giving up", "url", rawURL, "attempts", c.opts.MaxJSONRetries+1)
	return nil, lastErr
}

// doWithStatusRetries runs the inner retry loop over retryable HTTP
// statuses with exponential backoff, honoring Retry-After.
func (c *Client) doWithStatusRetries(ctx context.Context, rawURL string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxStatusRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * time.Second
			if ra := retryAfterDelay(lastErr); ra > 0 {
				delay = ra
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
		if err != nil {
			return nil, &ClientError{Code: ErrCodeTransport, Message: "failed to create request", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		// Defeat stale keep-alive sockets on the upstream LB
		req.Header.Set("Connection", "close")
		for _, ck := range c.opts.Cookies {
			req.AddCookie(ck)
		}

		resp, err := c.pool().Do(req)
		if err != nil {
			return nil, &ClientError{Code: ErrCodeTransport, Message: "request failed", Err: err}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, &ClientError{Code: ErrCodeTransport, Message: "failed to read response body", Err: readErr}
		}

		if c.opts.RetryStatuses[resp.StatusCode] {
			lastErr = &retryableStatusError{
				status:     resp.StatusCode,
				retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			c.log.Warnw("Retryable status from upstream",
				"url", rawURL, "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &ClientError{
				Code:    ErrCodeHTTP,
				Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, rawURL),
			}
		}

		return respBody, nil
	}

	return nil, &ClientError{Code: ErrCodeHTTP, Message: "retry budget exhausted", Err: lastErr}
}

type retryableStatusError struct {
	status     int
	retryAfter time.Duration
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("retryable HTTP status %d", e.status)
}

func retryAfterDelay(err error) time.Duration {
	var rse *retryableStatusError
	if errors.As(err, &rse) {
		return rse.retryAfter
	}
	return 0
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (c *Client) pool() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http == nil {
		c.http = c.buildPool()
	}
	return c.http
}

func (c *Client) rebuildPool() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http != nil {
		c.http.CloseIdleConnections()
	}
	c.http = c.buildPool()
}

func (c *Client) buildPool() *http.Client {
	transport := &http.Transport{
		DisableKeepAlives: true,
	}

	if c.opts.PinnedCertPath != "" {
		if pool, err := loadPinnedPool(c.opts.PinnedCertPath); err == nil {
			transport.TLSClientConfig = &tls.Config{RootCAs: pool}
		} else if !os.IsNotExist(err) {
			c.log.Warnw("Failed to load pinned certificate, using system roots", "error", err.Error())
		}
	}

	return &http.Client{
		Timeout:   c.opts.Timeout,
		Transport: transport,
	}
}

func loadPinnedPool(path string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// fetchAndStoreCert retrieves the server's current leaf certificate and
// writes it to path, for pin refresh after a rotation upstream.
func fetchAndStoreCert(hostname, path string) error {
	if hostname == "" {
		return fmt.Errorf("no hostname to fetch certificate from")
	}

	dialer := &tls.Dialer{
		Config: &tls.Config{InsecureSkipVerify: true},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", hostname+":443")
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", hostname, err)
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok || len(tlsConn.ConnectionState().PeerCertificates) == 0 {
		return fmt.Errorf("no peer certificates from %s", hostname)
	}

	leaf := tlsConn.ConnectionState().PeerCertificates[0]
	block := &pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o644)
}

func isCertError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostnameError    x509.HostnameError
		certInvalid      x509.CertificateInvalidError
		verifyErr        *tls.CertificateVerificationError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameError) ||
		errors.As(err, &certInvalid) ||
		errors.As(err, &verifyErr)
}
