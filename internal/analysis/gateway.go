package analysis

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/hpungsan/focus/internal/capture"
	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
	"github.com/hpungsan/focus/internal/logging"
)

// Client sends one prompt plus image to a vision provider and returns its text.
type Client interface {
	Complete(ctx context.Context, prompt string, image []byte, mediaType string) (string, error)
}

// Attempt outcomes reported to Options.OnAttempt.
const (
	OutcomeSuccess       = "success"
	OutcomeProviderError = "provider_error"
	OutcomeParseError    = "parse_error"
	OutcomeInvalid       = "invalid"
)

// Options tunes the retry policy and rate limit.
type Options struct {
	// Attempts is the total number of calls per image, first call included.
	Attempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// Timeout bounds each provider call. A timeout counts as a provider failure.
	Timeout time.Duration
	// RequestsPerMinute caps provider calls. Zero disables the limiter.
	RequestsPerMinute int

	Logger *slog.Logger

	// OnAttempt observes every attempt (optional).
	OnAttempt func(outcome string, elapsed time.Duration)
}

// Gateway applies one retry policy to every analysis call.
type Gateway struct {
	client   Client
	attempts int
	delay    time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger

	onAttempt func(string, time.Duration)
}

// NewGateway wraps client. Zero options fall back to 3 attempts, 1s delay and 60s timeout.
func NewGateway(client Client, opts Options) *Gateway {
	g := &Gateway{
		client:    client,
		attempts:  opts.Attempts,
		delay:     opts.Delay,
		timeout:   opts.Timeout,
		logger:    logging.Component(opts.Logger, "gateway"),
		onAttempt: opts.OnAttempt,
	}
	if g.attempts <= 0 {
		g.attempts = 3
	}
	if g.delay <= 0 {
		g.delay = time.Second
	}
	if g.timeout <= 0 {
		g.timeout = 60 * time.Second
	}
	if opts.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return g
}

// AnalyzeFile reads a capture from disk and analyzes it.
func (g *Gateway) AnalyzeFile(ctx context.Context, c focus.Capture) (*focus.Annotation, error) {
	image, err := os.ReadFile(c.Path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.NewCaptureNotFound(c.Path, err)
		}
		return nil, errors.NewCapture(c.Path, err)
	}
	if len(image) == 0 {
		return nil, errors.NewCapture(c.Path, stderrors.New("capture file is empty"))
	}
	return g.Analyze(ctx, image, capture.MediaType(c.Path), c.Timestamp)
}

// Analyze returns a validated annotation for image, stamped with ts.
//
// Provider failures, per-call timeouts and unparseable responses are retried
// with a fixed delay. A response of the wrong shape is returned at once as a
// validation error. Once attempts run out the last failure is wrapped in an
// ANALYSIS_FAILED error.
func (g *Gateway) Analyze(ctx context.Context, image []byte, mediaType string, ts time.Time) (*focus.Annotation, error) {
	if len(image) == 0 {
		return nil, errors.NewInvalidRequest("image is empty")
	}

	attempt := 0
	op := func() (*focus.Annotation, error) {
		attempt++
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		start := time.Now()
		text, err := g.client.Complete(callCtx, Prompt, image, mediaType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			g.observe(OutcomeProviderError, start)
			g.logger.Warn("provider call failed", "attempt", attempt, "error", err)
			return nil, errors.NewAnalysisProvider(err)
		}

		ann, err := Parse(text, ts)
		if err != nil {
			if errors.IsRetryable(err) {
				g.observe(OutcomeParseError, start)
				g.logger.Warn("unparseable response", "attempt", attempt, "error", err)
				return nil, err
			}
			g.observe(OutcomeInvalid, start)
			return nil, backoff.Permanent(err)
		}

		g.observe(OutcomeSuccess, start)
		return ann, nil
	}

	ann, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(g.delay)),
		backoff.WithMaxTries(uint(g.attempts)),
	)
	if err == nil {
		if attempt > 1 {
			g.logger.Info("analysis succeeded after retry", "attempts", attempt)
		}
		return ann, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("analysis interrupted: %w", ctx.Err())
	case errors.Is(err, errors.ErrValidation), errors.Is(err, errors.ErrInvalidRequest):
		return nil, err
	default:
		return nil, errors.NewAnalysisFailed(attempt, err)
	}
}

func (g *Gateway) observe(outcome string, start time.Time) {
	if g.onAttempt != nil {
		g.onAttempt(outcome, time.Since(start))
	}
}
