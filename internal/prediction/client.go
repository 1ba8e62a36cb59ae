// Package prediction talks to the external cycle prediction service.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/vedabloom/internal/domain"
)

// DefaultTimeout bounds a single prediction exchange.
const DefaultTimeout = 10 * time.Second

const predictPath = "/api/predict"

// Client issues POST /api/predict requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client. A non-positive timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Predict implements domain.Predictor. Every failure, including timeouts,
// is reported as domain.ErrPredictionServiceUnavailable with the cause attached.
func (c *Client) Predict(ctx context.Context, in domain.PredictionRequest) (domain.PredictionResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return domain.PredictionResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+predictPath, bytes.NewReader(body))
	if err != nil {
		return domain.PredictionResult{}, unavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PredictionResult{}, unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.PredictionResult{}, unavailable(&StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))})
	}

	var out domain.PredictionResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.PredictionResult{}, unavailable(fmt.Errorf("decode response: %w", err))
	}
	if err := validate(out); err != nil {
		return domain.PredictionResult{}, unavailable(err)
	}
	return out, nil
}

func validate(out domain.PredictionResult) error {
	fields := map[string]string{
		"nextPeriodDate":     out.NextPeriodDate,
		"ovulationDate":      out.OvulationDate,
		"fertileWindowStart": out.FertileWindowStart,
	}
	for name, value := range fields {
		if _, err := time.Parse(domain.DateLayout, value); err != nil {
			return fmt.Errorf("response field %s: %q is not YYYY-MM-DD", name, value)
		}
	}
	return nil
}

func unavailable(cause error) error {
	return fmt.Errorf("%w: %v", domain.ErrPredictionServiceUnavailable, cause)
}

// StatusError describes a non-2xx response from the prediction service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("prediction service responded %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("prediction service responded %d %s: %s", e.Status, http.StatusText(e.Status), e.Body)
}
