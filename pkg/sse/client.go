package sse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh-go/pkg/metrics"
)

// Event is a single decoded Server-Sent Event.
type Event struct {
	ID    string
	Event string
	Data  []byte
}

/*
Client consumes an SSE stream with reconnection support.  Stream endpoints
take their request as a POST body, so the client replays Body on every
(re)connect.
*/
type Client struct {
	URL     string
	Method  string
	Body    []byte
	Headers map[string]string
	Metrics *metrics.StreamingMetrics

	mu            sync.RWMutex
	conn          *http.Response
	reader        *bufio.Reader
	reconnectChan chan struct{}
	stopChan      chan struct{}
}

func NewClient(url string) *Client {
	return &Client{
		URL:           url,
		Method:        http.MethodGet,
		Headers:       make(map[string]string),
		Metrics:       metrics.NewStreamingMetrics(),
		reconnectChan: make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
	}
}

/*
Subscribe connects and feeds every event to handler until ctx is cancelled,
Close is called, or the retry budget runs out.  Dropped connections are
retried with exponential backoff.
*/
func (c *Client) Subscribe(ctx context.Context, handler func(*Event)) error {
	var retryCount int

	const maxRetries = 3

	baseDelay := time.Second
	shouldReconnect := false

	for {
		select {
		case <-ctx.Done():
			c.cleanup()
			return ctx.Err()
		case <-c.stopChan:
			c.cleanup()
			return nil
		case <-c.reconnectChan:
			shouldReconnect = true
		default:
			if shouldReconnect {
				c.cleanup()
				c.Metrics.RecordReconnection()
				shouldReconnect = false
			}

			if err := c.connect(ctx); err != nil {
				if retryCount >= maxRetries {
					return fmt.Errorf("max retries exceeded: %w", err)
				}

				time.Sleep(baseDelay * time.Duration(1<<retryCount))
				retryCount++

				continue
			}

			retryCount = 0

			if err := c.processEvents(ctx, handler); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					shouldReconnect = true
					continue
				}

				return err
			}

			// Server closed the stream cleanly.
			c.cleanup()

			return nil
		}
	}
}

func (c *Client) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Body.Close()
		c.conn = nil
		c.reader = nil
	}
}

func (c *Client) connect(ctx context.Context) error {
	startTime := time.Now()

	var body io.Reader
	if c.Body != nil {
		body = bytes.NewReader(c.Body)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method, c.URL, body)
	if err != nil {
		c.Metrics.RecordConnection(false, time.Since(startTime))
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	if c.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	// No overall timeout: an SSE stream is expected to stay open.
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		c.Metrics.RecordConnection(false, time.Since(startTime))
		return fmt.Errorf("failed to connect: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.Metrics.RecordConnection(false, time.Since(startTime))

		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(respBody))
	}

	c.mu.Lock()
	c.conn = resp
	c.reader = bufio.NewReader(resp.Body)
	c.mu.Unlock()

	c.Metrics.RecordConnection(true, time.Since(startTime))

	return nil
}

func (c *Client) processEvents(ctx context.Context, handler func(*Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopChan:
			return nil
		case <-c.reconnectChan:
			return io.EOF
		default:
			event, err := c.readEvent()
			if err != nil {
				return err
			}

			if event != nil {
				start := time.Now()
				handler(event)
				c.Metrics.RecordEvent(false, time.Since(start))
			}
		}
	}
}

// readEvent reads one SSE event, treating a blank line as the delimiter.
func (c *Client) readEvent() (*Event, error) {
	c.mu.RLock()
	reader := c.reader
	c.mu.RUnlock()

	if reader == nil {
		return nil, io.EOF
	}

	event := &Event{}

	var eventData strings.Builder

	inEvent := false

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimRight(line, "\n\r")

		if line == "" {
			if inEvent {
				event.Data = []byte(eventData.String())
				return event, nil
			}

			continue
		}

		inEvent = true

		switch {
		case strings.HasPrefix(line, "id:"):
			event.ID = strings.TrimSpace(line[3:])
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			if eventData.Len() > 0 {
				eventData.WriteString("\n")
			}

			eventData.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat, not part of any event
			inEvent = eventData.Len() > 0 || event.ID != "" || event.Event != ""
		}
	}
}

// Close terminates the subscription and any open connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	close(c.stopChan)

	if c.conn != nil {
		return c.conn.Body.Close()
	}

	return nil
}

// Reconnect asks the subscriber loop to drop and re-establish the connection.
func (c *Client) Reconnect() {
	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}
