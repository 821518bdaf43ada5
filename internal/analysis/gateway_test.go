package analysis

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/focus/internal/errors"
	"github.com/hpungsan/focus/internal/focus"
	"github.com/hpungsan/focus/internal/logging"
)

// scriptedClient returns the scripted results in order, then repeats the last.
type scriptedClient struct {
	mu        sync.Mutex
	results   []result
	calls     int
	mediaType string
}

type result struct {
	text  string
	err   error
	block bool
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string, image []byte, mediaType string) (string, error) {
	c.mu.Lock()
	i := c.calls
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	r := c.results[i]
	c.calls++
	c.mediaType = mediaType
	c.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

func (c *scriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestGateway(client Client, delay time.Duration) *Gateway {
	return NewGateway(client, Options{
		Attempts: 3,
		Delay:    delay,
		Timeout:  time.Second,
		Logger:   logging.Discard(),
	})
}

var image = []byte("png-bytes")

func TestGateway_FailTwiceThenSucceed(t *testing.T) {
	const delay = 30 * time.Millisecond
	client := &scriptedClient{results: []result{
		{err: stderrors.New("connection reset")},
		{text: "not json at all"},
		{text: validResponse},
	}}

	var outcomes []string
	g := NewGateway(client, Options{
		Attempts:  3,
		Delay:     delay,
		Timeout:   time.Second,
		Logger:    logging.Discard(),
		OnAttempt: func(o string, _ time.Duration) { outcomes = append(outcomes, o) },
	})

	start := time.Now()
	ann, err := g.Analyze(context.Background(), image, "image/png", ts)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "Editing Go code in VS Code with docs open", ann.Summary)
	assert.Equal(t, 3, client.Calls())
	assert.GreaterOrEqual(t, elapsed, 2*delay)
	assert.Equal(t, []string{OutcomeProviderError, OutcomeParseError, OutcomeSuccess}, outcomes)
}

func TestGateway_ExhaustedRetries(t *testing.T) {
	client := &scriptedClient{results: []result{{err: stderrors.New("503 overloaded")}}}
	g := newTestGateway(client, 5*time.Millisecond)

	_, err := g.Analyze(context.Background(), image, "image/png", ts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAnalysisFailed))
	assert.True(t, errors.Is(err, errors.ErrAnalysisProvider), "last cause is kept")
	assert.Equal(t, 3, client.Calls())
}

func TestGateway_ValidationIsNotRetried(t *testing.T) {
	client := &scriptedClient{results: []result{{text: `{"summary": "x", "context": {}}`}}}
	g := newTestGateway(client, 5*time.Millisecond)

	_, err := g.Analyze(context.Background(), image, "image/png", ts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.False(t, errors.Is(err, errors.ErrAnalysisFailed))
	assert.Equal(t, 1, client.Calls())
}

func TestGateway_EmptyResponseRetriedAsParseError(t *testing.T) {
	client := &scriptedClient{results: []result{{text: ""}}}
	g := newTestGateway(client, time.Millisecond)

	_, err := g.Analyze(context.Background(), image, "image/png", ts)
	assert.True(t, errors.Is(err, errors.ErrAnalysisFailed))
	assert.True(t, errors.Is(err, errors.ErrParse))
	assert.Equal(t, 3, client.Calls())
}

func TestGateway_TimeoutIsTransient(t *testing.T) {
	client := &scriptedClient{results: []result{{block: true}, {text: validResponse}}}
	g := NewGateway(client, Options{
		Attempts: 3,
		Delay:    time.Millisecond,
		Timeout:  20 * time.Millisecond,
		Logger:   logging.Discard(),
	})

	ann, err := g.Analyze(context.Background(), image, "image/png", ts)
	require.NoError(t, err)
	assert.NotNil(t, ann)
	assert.Equal(t, 2, client.Calls())
}

func TestGateway_CancelStopsRetries(t *testing.T) {
	client := &scriptedClient{results: []result{{err: stderrors.New("down")}}}
	g := newTestGateway(client, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := g.Analyze(ctx, image, "image/png", ts)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.Calls())
}

func TestGateway_EmptyImage(t *testing.T) {
	client := &scriptedClient{results: []result{{text: validResponse}}}
	_, err := newTestGateway(client, time.Millisecond).Analyze(context.Background(), nil, "image/png", ts)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	assert.Equal(t, 0, client.Calls())
}

func TestGateway_AnalyzeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.jpg")
	require.NoError(t, os.WriteFile(path, image, 0600))

	client := &scriptedClient{results: []result{{text: validResponse}}}
	g := newTestGateway(client, time.Millisecond)

	ann, err := g.AnalyzeFile(context.Background(), focus.Capture{Path: path, Timestamp: ts})
	require.NoError(t, err)
	assert.True(t, ann.Timestamp.Equal(ts))
	assert.Equal(t, "image/jpeg", client.mediaType)

	_, err = g.AnalyzeFile(context.Background(), focus.Capture{Path: filepath.Join(dir, "gone.png")})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
