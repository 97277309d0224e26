package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mercator-hq/objectives/pkg/abeval"
	"mercator-hq/objectives/pkg/telemetry/tracing"
	"mercator-hq/objectives/pkg/variants"
)

// HTTPConfig configures an HTTPScorer.
type HTTPConfig struct {
	// URL is the scoring endpoint.
	URL string

	// Timeout bounds a single request attempt.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. A
	// negative value disables retries.
	// Default: 2
	MaxRetries int

	// InitialBackoff is the first retry delay.
	// Default: 200 milliseconds
	InitialBackoff time.Duration

	// Headers are added to every request (for example an Authorization
	// header).
	Headers map[string]string

	// MaxIdleConns sizes the connection pool.
	// Default: 16
	MaxIdleConns int
}

// HTTPScorer calls an external scoring service.
type HTTPScorer struct {
	config HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// scoreRequest is the body sent to the scoring service.
type scoreRequest struct {
	Variant  variants.ObjectiveVariant `json:"variant"`
	Evidence *abeval.EvidenceBundle    `json:"evidence"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("scoring service returned status %d: %s", e.StatusCode, e.Body)
}

// NewHTTPScorer creates a scorer for the service at cfg.URL.
func NewHTTPScorer(cfg HTTPConfig, logger *slog.Logger) (*HTTPScorer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("scoring URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 16
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &HTTPScorer{
		config: cfg,
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger: logger.With("component", "abeval.scoring.http"),
	}, nil
}

// Score implements abeval.Scorer.
func (s *HTTPScorer) Score(ctx context.Context, v variants.ObjectiveVariant, ev *abeval.EvidenceBundle) (*variants.VariantEvaluationResult, error) {
	body, err := json.Marshal(scoreRequest{Variant: v, Evidence: ev})
	if err != nil {
		return nil, fmt.Errorf("encode scoring request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialBackoff

	attempt := 0
	return backoff.Retry(ctx, func() (*variants.VariantEvaluationResult, error) {
		attempt++
		res, err := s.do(ctx, body)
		if err != nil {
			s.logger.Debug("scoring attempt failed",
				"variant_id", v.VariantID,
				"attempt", attempt,
				"error", err,
			)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.config.MaxRetries+1)))
}

func (s *HTTPScorer) do(ctx context.Context, body []byte) (*variants.VariantEvaluationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}
	tracing.Inject(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	var res variants.VariantEvaluationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode scoring response: %w", err))
	}
	if err := checkRange(res.Scores); err != nil {
		return nil, backoff.Permanent(err)
	}
	return &res, nil
}
