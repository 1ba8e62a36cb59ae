package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"example.com/vedabloom/internal/domain"
)

const maxDocumentBytes = 1 << 20

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		s.client = client
	}
}

// WithRetry sets the attempt count and base delay between attempts.
func WithRetry(attempts uint, delay time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		s.attempts = attempts
		s.delay = delay
	}
}

// WithSourceLogger overrides the logger.
func WithSourceLogger(logger *zap.Logger) HTTPOption {
	return func(s *HTTPSource) {
		s.logger = logger
	}
}

// HTTPSource fetches the content document over HTTP, retrying transient failures.
type HTTPSource struct {
	url      string
	client   *http.Client
	attempts uint
	delay    time.Duration
	logger   *zap.Logger
}

// NewHTTPSource constructs an HTTPSource for url.
func NewHTTPSource(url string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: 3,
		delay:    200 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) (Document, error) {
	doc, err := retry.DoWithData(
		func() (Document, error) { return s.fetchOnce(ctx) },
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("content fetch failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		if errors.Is(err, domain.ErrContentSourceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrContentSourceUnavailable, err)
	}
	return doc, nil
}

func (s *HTTPSource) fetchOnce(ctx context.Context) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("get %s: status %d", s.url, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Unrecoverable(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	doc, err := Decode(body)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	return doc, nil
}
