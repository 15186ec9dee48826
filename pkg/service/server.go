package service

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	fiberadaptor "github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/taskmesh/taskmesh-go/pkg/auth"
	"github.com/taskmesh/taskmesh-go/pkg/errors"
	"github.com/taskmesh/taskmesh-go/pkg/handler"
	"github.com/taskmesh/taskmesh-go/pkg/stores"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

/*
TaskServer exposes the protocol handler over REST plus SSE.  It is safe for
concurrent use because the handler and its store are.
*/
type TaskServer struct {
	app     *fiber.App
	handler *handler.Handler
	checker auth.Checker
	addr    string
}

// Option configures a TaskServer.
type Option func(*TaskServer)

// WithAuth protects every task endpoint with the given checker.
func WithAuth(checker auth.Checker) Option {
	return func(srv *TaskServer) { srv.checker = checker }
}

// WithAddr overrides the default listen address.
func WithAddr(addr string) Option {
	return func(srv *TaskServer) { srv.addr = addr }
}

func NewTaskServer(h *handler.Handler, opts ...Option) *TaskServer {
	srv := &TaskServer{
		app: fiber.New(fiber.Config{
			AppName:           h.Capabilities().Name,
			ServerHeader:      "TaskMesh-Server",
			StreamRequestBody: true,
		}),
		handler: h,
		addr:    ":3210",
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.routes()

	return srv
}

func (srv *TaskServer) routes() {
	srv.app.Use(logger.New(logger.Config{
		// Skip logging for stream endpoints to reduce noise
		Next: func(c fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/stream")
		},
	}))

	// Fiber v3 healthcheck is a route handler, not a catch-all middleware;
	// mount it on the probe endpoints it served implicitly in v2.
	srv.app.Get(healthcheck.LivenessEndpoint, healthcheck.New())
	srv.app.Get(healthcheck.ReadinessEndpoint, healthcheck.New())

	srv.app.Get("/", srv.handleRoot)
	srv.app.Get("/.well-known/capabilities.json", srv.handleCapabilities)

	tasks := srv.app.Group("/tasks")
	if srv.checker != nil {
		tasks.Use(srv.requireAuth)
	}

	tasks.Post("/", srv.handleCreateTask)
	tasks.Get("/", srv.handleListTasks)
	tasks.Post("/stream", srv.handleStream)
	tasks.Get("/:id", srv.handleGetTask)
	tasks.Post("/:id/messages", srv.handleAddMessage)
	tasks.Post("/:id/cancel", srv.handleCancelTask)
	tasks.Post("/:id/stream", srv.handleResumeStream)
}

// Start blocks serving until the listener fails.
func (srv *TaskServer) Start() error {
	return srv.app.Listen(srv.addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown drains in-flight requests and stops the listener.
func (srv *TaskServer) Shutdown() error {
	return srv.app.Shutdown()
}

// App exposes the underlying fiber app, used by tests to drive requests.
func (srv *TaskServer) App() *fiber.App {
	return srv.app
}

func (srv *TaskServer) requireAuth(c fiber.Ctx) error {
	header := func(key string) string { return c.Get(key) }

	if !srv.checker.Authorize(header) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": fiber.Map{"code": "unauthorized", "message": "invalid credentials"},
		})
	}

	return c.Next()
}

func (srv *TaskServer) handleRoot(c fiber.Ctx) error {
	return c.SendString("OK")
}

func (srv *TaskServer) handleCapabilities(c fiber.Ctx) error {
	return c.JSON(srv.handler.Capabilities())
}

func (srv *TaskServer) handleCreateTask(c fiber.Ctx) error {
	var req handler.CreateTaskRequest

	if err := c.Bind().Body(&req); err != nil {
		return protocolError(c, errors.ErrMalformedRequest.WithMessagef(
			"invalid request body: %v", err,
		))
	}

	task, rpcErr := srv.handler.CreateTask(c.RequestCtx(), req)
	if rpcErr != nil {
		return protocolError(c, rpcErr)
	}

	// 201 only when execution was deferred; a synchronous run already
	// carried the task to an outcome, so the response is a plain 200.
	status := fiber.StatusOK
	if task.Status == taskmesh.StatusCreated {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(task)
}

func (srv *TaskServer) handleGetTask(c fiber.Ctx) error {
	task, rpcErr := srv.handler.GetTask(c.RequestCtx(), c.Params("id"))
	if rpcErr != nil {
		return protocolError(c, rpcErr)
	}

	return c.JSON(task)
}

func (srv *TaskServer) handleAddMessage(c fiber.Ctx) error {
	var msg taskmesh.Message

	if err := c.Bind().Body(&msg); err != nil {
		return protocolError(c, errors.ErrMalformedRequest.WithMessagef(
			"invalid request body: %v", err,
		))
	}

	task, rpcErr := srv.handler.AddMessage(c.RequestCtx(), c.Params("id"), msg)
	if rpcErr != nil {
		return protocolError(c, rpcErr)
	}

	return c.JSON(task)
}

func (srv *TaskServer) handleListTasks(c fiber.Ctx) error {
	filter := stores.TaskFilter{
		Status:  taskmesh.TaskStatus(c.Query("status")),
		AgentID: c.Query("agent_id"),
	}

	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return protocolError(c, errors.ErrMalformedRequest.WithMessagef(
				"invalid limit %q", limit,
			))
		}

		filter.Limit = n
	}

	if offset := c.Query("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return protocolError(c, errors.ErrMalformedRequest.WithMessagef(
				"invalid offset %q", offset,
			))
		}

		filter.Offset = n
	}

	list, rpcErr := srv.handler.ListTasks(c.RequestCtx(), filter)
	if rpcErr != nil {
		return protocolError(c, rpcErr)
	}

	return c.JSON(list)
}

func (srv *TaskServer) handleCancelTask(c fiber.Ctx) error {
	task, rpcErr := srv.handler.CancelTask(c.RequestCtx(), c.Params("id"))
	if rpcErr != nil {
		return protocolError(c, rpcErr)
	}

	return c.JSON(task)
}

func protocolError(c fiber.Ctx, rpcErr *errors.ProtocolError) error {
	return c.Status(rpcErr.Status).JSON(fiber.Map{"error": rpcErr})
}

// httpError writes the same error shape from a net/http handler.
func httpError(w http.ResponseWriter, rpcErr *errors.ProtocolError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rpcErr.Status)
	_, _ = w.Write([]byte(
		`{"error":{"code":"` + rpcErr.Code + `","message":` +
			strconv.Quote(rpcErr.Message) + `}}`,
	))
}

// adapt bridges a net/http handler into the fiber app, needed for SSE.
func adapt(h http.HandlerFunc) fiber.Handler {
	return func(c fiber.Ctx) error {
		return fiberadaptor.HTTPHandler(h)(c)
	}
}
