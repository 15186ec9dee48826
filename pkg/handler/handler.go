package handler

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/taskmesh/taskmesh-go/pkg/agent"
	"github.com/taskmesh/taskmesh-go/pkg/errors"
	"github.com/taskmesh/taskmesh-go/pkg/stores"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

/*
Handler is the protocol-facing orchestrator.  It is the only component
that invokes agents and the only one that decides status transitions from
agent output; every task mutation goes through the injected TaskStore so
the store remains the single point enforcing the lifecycle invariants.
*/
type Handler struct {
	store    stores.TaskStore
	registry *agent.Registry
	caps     *taskmesh.Capabilities
}

// Config shapes the capability document published by the handler.
type Config struct {
	Name        string
	Description string
	Version     string
	Cards       []taskmesh.AgentCard
}

/*
New wires a handler from its collaborators.  The capability document is
computed here, once, and served unchanged for the life of the process.
*/
func New(store stores.TaskStore, registry *agent.Registry, cfg Config) *Handler {
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	caps := &taskmesh.Capabilities{
		Name:       cfg.Name,
		Version:    version,
		Operations: taskmesh.DefaultOperations,
		PartTypes: []taskmesh.PartType{
			taskmesh.PartTypeText,
			taskmesh.PartTypeData,
			taskmesh.PartTypeFile,
		},
		Streaming: true,
		Agents:    cfg.Cards,
	}

	if cfg.Description != "" {
		desc := cfg.Description
		caps.Description = &desc
	}

	return &Handler{
		store:    store,
		registry: registry,
		caps:     caps,
	}
}

// Capabilities returns the static discovery document.
func (h *Handler) Capabilities() *taskmesh.Capabilities {
	return h.caps
}

/*
CreateTaskRequest is the body of a task creation call.  Stream requests
only create the task; execution happens on the streaming path.
*/
type CreateTaskRequest struct {
	AgentID string            `json:"agent_id"`
	Message *taskmesh.Message `json:"message,omitempty"`
	Context map[string]any    `json:"context,omitempty"`
	Stream  bool              `json:"stream,omitempty"`
}

// TaskList is the paginated result of a list call.
type TaskList struct {
	Tasks []taskmesh.Task `json:"tasks"`
	Total int             `json:"total"`
}

/*
CreateTask creates a task and, unless streaming was requested, drives the
agent synchronously: created -> working -> terminal (or input-required),
with the agent's reply folded into one agent-role message.
*/
func (h *Handler) CreateTask(
	ctx context.Context, req CreateTaskRequest,
) (*taskmesh.Task, *errors.ProtocolError) {
	if req.AgentID == "" {
		return nil, errors.ErrMalformedRequest.WithMessagef("agent_id is required")
	}

	ag, ok := h.registry.Lookup(req.AgentID)
	if !ok {
		return nil, errors.ErrAgentNotFound.WithMessagef("unknown agent %q", req.AgentID)
	}

	task, rpcErr := h.store.Create(ctx, req.AgentID, req.Message, req.Context)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if req.Stream {
		// Execution is deferred to the streaming endpoint.
		return task, nil
	}

	return h.run(ctx, ag, task.ID)
}

func (h *Handler) GetTask(
	ctx context.Context, id string,
) (*taskmesh.Task, *errors.ProtocolError) {
	return h.store.Get(ctx, id)
}

/*
AddMessage appends a caller message to an existing thread, transitions the
task back to working and re-invokes the agent with the accumulated
transcript.  Terminal tasks conflict before anything is appended.
*/
func (h *Handler) AddMessage(
	ctx context.Context, id string, msg taskmesh.Message,
) (*taskmesh.Task, *errors.ProtocolError) {
	task, rpcErr := h.store.Get(ctx, id)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if task.Status.Terminal() {
		return nil, errors.ErrTaskTerminal.WithMessagef(
			"task %s is already %s", id, task.Status,
		)
	}

	ag, ok := h.registry.Lookup(task.AgentID)
	if !ok {
		return nil, errors.ErrAgentNotFound.WithMessagef("unknown agent %q", task.AgentID)
	}

	if _, rpcErr = h.store.AppendMessage(ctx, id, msg); rpcErr != nil {
		return nil, rpcErr
	}

	return h.run(ctx, ag, id)
}

func (h *Handler) ListTasks(
	ctx context.Context, filter stores.TaskFilter,
) (*TaskList, *errors.ProtocolError) {
	tasks, total, rpcErr := h.store.List(ctx, filter)
	if rpcErr != nil {
		return nil, rpcErr
	}

	return &TaskList{Tasks: tasks, Total: total}, nil
}

// CancelTask moves a non-terminal task to cancelled.
func (h *Handler) CancelTask(
	ctx context.Context, id string,
) (*taskmesh.Task, *errors.ProtocolError) {
	return h.store.UpdateStatus(ctx, id, taskmesh.StatusCancelled, "")
}

/*
run drives one unary agent invocation for the task.  Agent faults never
escape: they fold into a failed transition and the failed task is the
result, which the transport reports as a normal protocol outcome.
*/
func (h *Handler) run(
	ctx context.Context, ag agent.Agent, id string,
) (*taskmesh.Task, *errors.ProtocolError) {
	working, rpcErr := h.store.UpdateStatus(ctx, id, taskmesh.StatusWorking, "")
	if rpcErr != nil {
		return nil, rpcErr
	}

	out, err := invoke(ctx, ag, working.Flatten())
	if err != nil {
		log.Warn("agent invocation failed", "task", id, "error", err)
		return h.store.UpdateStatus(ctx, id, taskmesh.StatusFailed, err.Error())
	}

	reply := outputMessage(out)
	if _, rpcErr = h.store.AppendMessage(ctx, id, reply); rpcErr != nil {
		return nil, rpcErr
	}

	next := taskmesh.StatusCompleted
	if out.Metadata.NeedsInput {
		next = taskmesh.StatusInputRequired
	}

	return h.store.UpdateStatus(ctx, id, next, "")
}

/*
invoke shields the handler from a misbehaving agent: both returned errors
and panics surface as plain errors here.
*/
func invoke(ctx context.Context, ag agent.Agent, input string) (out *agent.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()

	out, err = ag.Invoke(ctx, input)
	if err == nil && out == nil {
		err = fmt.Errorf("agent returned no output")
	}

	return out, err
}

// outputMessage folds a unary agent output into one agent-role message.
func outputMessage(out *agent.Output) taskmesh.Message {
	parts := make([]taskmesh.Part, 0, 2)

	if out.Text != "" {
		parts = append(parts, taskmesh.NewTextPart(out.Text))
	}
	if out.Data != nil {
		parts = append(parts, taskmesh.NewDataPart(out.Data))
	}

	return taskmesh.Message{Role: taskmesh.RoleAgent, Parts: parts}
}
