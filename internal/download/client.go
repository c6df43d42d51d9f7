// Package download performs single-shot, cancellable HTTP transfers of
// release assets. Failures are typed so callers can tell a network fault
// from a rejected status, a local write failure, or a user cancellation.
// The client never retries; a failed or cancelled transfer leaves any
// partial file behind and the caller treats it as invalid.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mbfetch/mbfetch/internal/progress"
	"github.com/mbfetch/mbfetch/internal/safety"
)

const defaultUserAgent = "mbfetch/1.0"

// ErrCancelled indicates the transfer context was cancelled mid-flight.
var ErrCancelled = errors.New("download cancelled")

// NetworkError wraps a transport-level failure: DNS, dial, TLS, or a
// broken body read.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from the server.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// WriteError is a local filesystem failure creating or writing the
// destination file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ProgressFunc is called as body chunks arrive. total is the server's
// advertised content length, or -1 when the server did not send one; the
// caller decides how to render the unknown-denominator case.
type ProgressFunc func(written, total int64)

// Options configures a single download.
type Options struct {
	URL      string
	DestPath string
	Progress ProgressFunc
}

// Client performs streaming downloads with a hardened transport.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// NewClient creates a download client. The client carries no overall
// timeout; cancellation and deadlines come from the request context.
func NewClient(logger *slog.Logger, userAgent string) *Client {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		httpClient: safety.NewHTTPClient(0),
		logger:     logger,
		userAgent:  userAgent,
	}
}

// Download fetches opts.URL to opts.DestPath, truncating any existing
// file, and returns the number of bytes written. Redirects are followed.
// The context is the cancellation flag: it is re-evaluated on every body
// chunk, and cancelling it tears the connection down. The partial file is
// left in place on failure.
func (c *Client) Download(ctx context.Context, opts Options) (int64, error) {
	if _, err := safety.ValidateHTTPURL(opts.URL); err != nil {
		return 0, &NetworkError{URL: opts.URL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return 0, &NetworkError{URL: opts.URL, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return 0, &NetworkError{URL: opts.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if dir := filepath.Dir(opts.DestPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, &WriteError{Path: opts.DestPath, Err: err}
		}
	}

	file, err := os.OpenFile(opts.DestPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, &WriteError{Path: opts.DestPath, Err: err}
	}
	defer file.Close()

	// ContentLength is -1 when the server sent no length; pass that
	// through so the caller reports indeterminate progress instead of a
	// fabricated percentage.
	total := resp.ContentLength

	var reader io.Reader = resp.Body
	if opts.Progress != nil {
		reader = &progressReader{reader: resp.Body, callback: opts.Progress, total: total}
	}

	dst := &errTrackingWriter{w: file}
	written, err := io.Copy(dst, reader)
	if err != nil {
		c.logger.Warn("download interrupted",
			slog.String("url", opts.URL),
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()))
		switch {
		case dst.err != nil:
			return written, &WriteError{Path: opts.DestPath, Err: dst.err}
		case ctx.Err() != nil:
			return written, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		default:
			return written, &NetworkError{URL: opts.URL, Err: err}
		}
	}

	if err := file.Close(); err != nil {
		return written, &WriteError{Path: opts.DestPath, Err: err}
	}

	c.logger.Debug("download complete",
		slog.String("url", opts.URL),
		slog.String("dest", opts.DestPath),
		slog.Int64("bytes", written))
	return written, nil
}

// Reason maps a download failure to its presentation-side failure class.
func Reason(err error) progress.FailureReason {
	if err == nil {
		return progress.ReasonNone
	}
	var statusErr *StatusError
	var writeErr *WriteError
	switch {
	case errors.Is(err, ErrCancelled):
		return progress.ReasonCancelled
	case errors.As(err, &statusErr):
		return progress.ReasonHTTPStatus
	case errors.As(err, &writeErr):
		return progress.ReasonLocalWrite
	default:
		return progress.ReasonNetwork
	}
}

// progressReader wraps a response body and reports cumulative bytes read.
type progressReader struct {
	reader   io.Reader
	callback ProgressFunc
	current  int64
	total    int64
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.current += int64(n)
		pr.callback(pr.current, pr.total)
	}
	return n, err
}

// errTrackingWriter remembers the first write failure so a failed copy can
// be attributed to the local disk rather than the network.
type errTrackingWriter struct {
	w   io.Writer
	err error
}

func (t *errTrackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}
