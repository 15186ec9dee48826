package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	fiberClient "github.com/gofiber/fiber/v3/client"

	"github.com/taskmesh/taskmesh-go/pkg/errors"
	"github.com/taskmesh/taskmesh-go/pkg/handler"
	"github.com/taskmesh/taskmesh-go/pkg/stores"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

/*
Client is a typed consumer of a task server.  Unary calls go through a
pooled HTTP client; streaming calls are handled separately in stream.go.
*/
type Client struct {
	baseURL string
	headers map[string]string
	conn    *fiberClient.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHeader attaches a header (API key, bearer token) to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		headers: map[string]string{"Content-Type": "application/json"},
		conn:    fiberClient.New().SetBaseURL(baseURL),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CreateTask creates a task, driving the agent synchronously server-side.
func (c *Client) CreateTask(
	ctx context.Context, req handler.CreateTaskRequest,
) (*taskmesh.Task, error) {
	var task taskmesh.Task

	if err := c.post(ctx, "/tasks", req, &task); err != nil {
		return nil, err
	}

	return &task, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*taskmesh.Task, error) {
	var task taskmesh.Task

	if err := c.get(ctx, "/tasks/"+url.PathEscape(id), &task); err != nil {
		return nil, err
	}

	return &task, nil
}

// AddMessage continues an existing thread and returns the updated task.
func (c *Client) AddMessage(
	ctx context.Context, id string, msg taskmesh.Message,
) (*taskmesh.Task, error) {
	var task taskmesh.Task

	if err := c.post(
		ctx, "/tasks/"+url.PathEscape(id)+"/messages", msg, &task,
	); err != nil {
		return nil, err
	}

	return &task, nil
}

func (c *Client) ListTasks(
	ctx context.Context, filter stores.TaskFilter,
) (*handler.TaskList, error) {
	query := url.Values{}

	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.AgentID != "" {
		query.Set("agent_id", filter.AgentID)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}

	path := "/tasks"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var list handler.TaskList

	if err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}

	return &list, nil
}

func (c *Client) CancelTask(ctx context.Context, id string) (*taskmesh.Task, error) {
	var task taskmesh.Task

	if err := c.post(
		ctx, "/tasks/"+url.PathEscape(id)+"/cancel", nil, &task,
	); err != nil {
		return nil, err
	}

	return &task, nil
}

// Capabilities fetches the server's discovery document.
func (c *Client) Capabilities(ctx context.Context) (*taskmesh.Capabilities, error) {
	var caps taskmesh.Capabilities

	if err := c.get(ctx, "/.well-known/capabilities.json", &caps); err != nil {
		return nil, err
	}

	return &caps, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	cfg := fiberClient.Config{Ctx: ctx, Header: c.headers}
	if body != nil {
		cfg.Body = body
	}

	res, err := c.conn.Post(path, cfg)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer res.Close()

	return decode(res.StatusCode(), res.Body(), out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	res, err := c.conn.Get(path, fiberClient.Config{Ctx: ctx, Header: c.headers})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer res.Close()

	return decode(res.StatusCode(), res.Body(), out)
}

/*
decode maps non-2xx responses back onto the protocol error taxonomy so
callers can match with errors.Is against the sentinels.
*/
func decode(status int, body []byte, out any) error {
	if status >= 200 && status < 300 {
		if out == nil {
			return nil
		}

		return json.Unmarshal(body, out)
	}

	var wrapper struct {
		Error *errors.ProtocolError `json:"error"`
	}

	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
		wrapper.Error.Status = status
		return wrapper.Error
	}

	return fmt.Errorf("unexpected status %d: %s", status, body)
}
