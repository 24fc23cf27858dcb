package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jordanlanch/leadguard/pkg/events"
	"github.com/jordanlanch/leadguard/pkg/logger"
)

// Headers set on every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
)

// Config configures webhook delivery.
type Config struct {
	URL            string
	Secret         string
	MaxRetries     int
	InitialBackoff time.Duration
	Timeout        time.Duration
}

// Sink delivers lifecycle events to an HTTP endpoint as signed JSON. A
// circuit breaker stops hammering an endpoint that keeps failing.
type Sink struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        logger.Logger
	now        func() time.Time
}

// NewSink creates a webhook sink.
func NewSink(cfg Config, log logger.Logger) *Sink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Sink{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    newCircuitBreaker("webhook"),
		log:        log,
		now:        time.Now,
	}
}

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    30 * time.Second, // closed: reset counters every 30s
		Timeout:     10 * time.Second, // open -> half-open after 10s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}

// ErrCircuitOpen is returned while the endpoint is considered down.
var ErrCircuitOpen = errors.New("webhook circuit open")

// Publish delivers e, retrying with exponential backoff.
func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	body, err := events.Marshal(e, s.now())
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	signature := generateSignature(body, s.cfg.Secret)

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.deliver(ctx, e.EventName(), body, signature)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (s *Sink) deliver(ctx context.Context, event string, body []byte, signature string) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.cfg.InitialBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = s.post(ctx, event, body, signature)
		if lastErr == nil {
			return nil
		}
		s.log.Warn("webhook delivery failed",
			"event", event,
			"attempt", attempt+1,
			"max_attempts", s.cfg.MaxRetries+1,
			"error", lastErr,
		)
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", s.cfg.MaxRetries+1, lastErr)
}

func (s *Sink) post(ctx context.Context, event string, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, event)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies the HMAC signature of a webhook payload
func VerifySignature(payload []byte, signature string, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}
