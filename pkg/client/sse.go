package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/treemirror/pkg/protocol"
	"github.com/fruitsalade/treemirror/pkg/retry"
)

// ErrStreamClosed is returned when the server ends an event stream.
var ErrStreamClosed = errors.New("event stream closed by server")

// SSEClient reads update events from the server's event stream.
type SSEClient struct {
	baseURL      string
	httpClient   *http.Client
	reconnectMin time.Duration
	reconnectMax time.Duration
	logger       *zap.Logger

	mu        sync.RWMutex
	authToken string
}

// NewSSEClient creates a new SSE client. A nil logger discards output.
func NewSSEClient(baseURL string, logger *zap.Logger) *SSEClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // streams stay open
		},
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
		logger:       logger,
	}
}

// SetAuthToken sets the bearer token for SSE requests.
func (c *SSEClient) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *SSEClient) reconnectPolicy() retry.Config {
	return retry.Config{
		InitialWait: c.reconnectMin,
		MaxWait:     c.reconnectMax,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

// Subscribe streams events until ctx is cancelled, reconnecting with
// backoff whenever the connection drops. A 4xx response other than 429 ends
// the stream and is sent on the error channel. Events missed while disconnected
// are not replayed; use RemoteSource when the stream feeds a tree.
func (c *SSEClient) Subscribe(ctx context.Context) (<-chan protocol.UpdateEvent, <-chan error) {
	events := make(chan protocol.UpdateEvent, 100)
	errs := make(chan error, 1)

	go c.subscribeLoop(ctx, events, errs)

	return events, errs
}

func (c *SSEClient) subscribeLoop(ctx context.Context, events chan<- protocol.UpdateEvent, errs chan<- error) {
	defer close(errs)
	defer close(events)

	b := retry.Backoff(c.reconnectPolicy())
	for {
		onOpen := func() error {
			b.Reset()
			return nil
		}
		err := c.Connect(ctx, onOpen, func(ev protocol.UpdateEvent) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if ctx.Err() != nil {
			return
		}
		if isClientError(err) {
			errs <- err
			return
		}

		delay := b.NextBackOff()
		c.logger.Warn("SSE connection lost",
			zap.Error(err),
			zap.Duration("reconnect_in", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Connect opens one event stream and calls handle for each event in order.
// onOpen, when set, runs once the server has accepted the stream and before
// any event is read; an error from it aborts the stream. Connect returns when
// the stream ends, ctx is cancelled or a callback fails.
func (c *SSEClient) Connect(ctx context.Context, onOpen func() error, handle func(protocol.UpdateEvent) error) error {
	url := c.baseURL + "/api/v1/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.mu.RLock()
	token := c.authToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	c.logger.Info("SSE connected", zap.String("url", url))
	if onOpen != nil {
		if err := onOpen(); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var eventType string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data.Len() > 0 {
				var ev protocol.UpdateEvent
				if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
					return fmt.Errorf("decode %s event: %w", eventType, err)
				}
				if ev.Type == "" {
					ev.Type = eventType
				}
				if err := handle(ev); err != nil {
					return err
				}
			}
			eventType = ""
			data.Reset()
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrStreamClosed
}
