package handler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskmesh/taskmesh-go/pkg/agent"
	"github.com/taskmesh/taskmesh-go/pkg/errors"
	"github.com/taskmesh/taskmesh-go/pkg/stores"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

// scriptedAgent lets each test decide how the agent behaves.
type scriptedAgent struct {
	invokeFunc func(ctx context.Context, input string) (*agent.Output, error)
	streamFunc func(ctx context.Context, input string) (<-chan agent.Chunk, error)
}

func (a *scriptedAgent) Invoke(ctx context.Context, input string) (*agent.Output, error) {
	if a.invokeFunc != nil {
		return a.invokeFunc(ctx, input)
	}

	return &agent.Output{Text: "ok"}, nil
}

func (a *scriptedAgent) Stream(ctx context.Context, input string) (<-chan agent.Chunk, error) {
	if a.streamFunc != nil {
		return a.streamFunc(ctx, input)
	}

	ch := make(chan agent.Chunk)
	close(ch)

	return ch, nil
}

func newTestHandler(ag agent.Agent) (*Handler, *stores.InMemoryTaskStore) {
	store := stores.NewInMemoryTaskStore()

	registry := agent.NewRegistry()
	registry.Register("scripted", ag)

	h := New(store, registry, Config{Name: "test", Version: "0.0.1"})

	return h, store
}

func TestCreateTaskCompletes(t *testing.T) {
	ag := &scriptedAgent{
		invokeFunc: func(ctx context.Context, input string) (*agent.Output, error) {
			assert.Equal(t, "hello", input)
			return &agent.Output{Text: "echo: hello"}, nil
		},
	}

	h, store := newTestHandler(ag)
	defer store.Close()

	msg := taskmesh.NewTextMessage(taskmesh.RoleUser, "hello")

	task, rpcErr := h.CreateTask(context.Background(), CreateTaskRequest{
		AgentID: "scripted",
		Message: &msg,
	})

	assert.Nil(t, rpcErr)
	assert.Equal(t, taskmesh.StatusCompleted, task.Status)
	assert.Len(t, task.Messages, 2)
	assert.Equal(t, taskmesh.RoleAgent, task.LastMessage().Role)
	assert.Equal(t, "echo: hello", task.LastMessage().Flatten())
}

func TestCreateTaskUnknownAgent(t *testing.T) {
	h, store := newTestHandler(&scriptedAgent{})
	defer store.Close()

	_, rpcErr := h.CreateTask(context.Background(), CreateTaskRequest{AgentID: "missing"})

	assert.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrAgentNotFound.Code, rpcErr.Code)
}

func TestCreateTaskMissingAgentID(t *testing.T) {
	h, store := newTestHandler(&scriptedAgent{})
	defer store.Close()

	_, rpcErr := h.CreateTask(context.Background(), CreateTaskRequest{})

	assert.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrMalformedRequest.Code, rpcErr.Code)
}

func TestCreateTaskAgentErrorFailsTask(t *testing.T) {
	ag := &scriptedAgent{
		invokeFunc: func(ctx context.Context, input string) (*agent.Output, error) {
			return nil, fmt.Errorf("model unavailable")
		},
	}

	h, store := newTestHandler(ag)
	defer store.Close()

	task, rpcErr := h.CreateTask(context.Background(), CreateTaskRequest{AgentID: "scripted"})

	// Agent faults are a protocol outcome, not a transport error.
	assert.Nil(t, rpcErr)
	assert.Equal(t, taskmesh.StatusFailed, task.Status)
	assert.Equal(t, "model unavailable", task.Error)
}

func TestCreateTaskAgentPanicFailsTask(t *testing.T) {
	ag := &scriptedAgent{
		invokeFunc: func(ctx context.Context, input string) (*agent.Output, error) {
			panic("nil dereference somewhere deep")
		},
	}

	h, store := newTestHandler(ag)
	defer store.Close()

	task, rpcErr := h.CreateTask(context.Background(), CreateTaskRequest{AgentID: "scripted"})

	assert.Nil(t, rpcErr)
	assert.Equal(t, taskmesh.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "panicked")
}

func TestCreateTaskNeedsInput(t *testing.T) {
	ag := &scriptedAgent{
		invokeFunc: func(ctx context.Context, input string) (*agent.Output, error) {
			return &agent.Output{
				Text:     "which city?",
				Metadata: agent.Metadata{NeedsInput: true},
			}, nil
		},
	}

	h, store := newTestHandler(ag)
	defer store.Close()

	task, rpcErr := h.CreateTask(context.Background(), CreateTaskRequest{AgentID: "scripted"})

	assert.Nil(t, rpcErr)
	assert.Equal(t, taskmesh.StatusInputRequired, task.Status)
}

func TestCreateTaskStreamDefersExecution(t *testing.T) {
	h, store := newTestHandler(&scriptedAgent{})
	defer store.Close()

	task, rpcErr := h.CreateTask(context.Background(), CreateTaskRequest{
		AgentID: "scripted",
		Stream:  true,
	})

	assert.Nil(t, rpcErr)
	assert.Equal(t, taskmesh.StatusCreated, task.Status)
	assert.Empty(t, task.Messages)
}

func TestAddMessageContinuesThread(t *testing.T) {
	calls := 0
	ag := &scriptedAgent{
		invokeFunc: func(ctx context.Context, input string) (*agent.Output, error) {
			calls++
			if calls == 1 {
				return &agent.Output{
					Text:     "need more detail",
					Metadata: agent.Metadata{NeedsInput: true},
				}, nil
			}

			// The re-invocation sees the accumulated transcript.
			assert.Contains(t, input, "book a flight")
			assert.Contains(t, input, "need more detail")
			assert.Contains(t, input, "to Lisbon")

			return &agent.Output{Text: "booked"}, nil
		},
	}

	h, store := newTestHandler(ag)
	defer store.Close()

	first := taskmesh.NewTextMessage(taskmesh.RoleUser, "book a flight")

	task, rpcErr := h.CreateTask(context.Background(), CreateTaskRequest{
		AgentID: "scripted",
		Message: &first,
	})
	assert.Nil(t, rpcErr)
	assert.Equal(t, taskmesh.StatusInputRequired, task.Status)

	task, rpcErr = h.AddMessage(
		context.Background(), task.ID,
		taskmesh.NewTextMessage(taskmesh.RoleUser, "to Lisbon"),
	)

	assert.Nil(t, rpcErr)
	assert.Equal(t, taskmesh.StatusCompleted, task.Status)
	assert.Len(t, task.Messages, 4)
	assert.Equal(t, 2, calls)
}

func TestAddMessageTerminalConflict(t *testing.T) {
	h, store := newTestHandler(&scriptedAgent{})
	defer store.Close()

	task, _ := h.CreateTask(context.Background(), CreateTaskRequest{AgentID: "scripted"})
	assert.Equal(t, taskmesh.StatusCompleted, task.Status)

	before := len(task.Messages)

	_, rpcErr := h.AddMessage(
		context.Background(), task.ID,
		taskmesh.NewTextMessage(taskmesh.RoleUser, "too late"),
	)

	assert.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrTaskTerminal.Code, rpcErr.Code)

	// Nothing was appended by the rejected call.
	after, _ := h.GetTask(context.Background(), task.ID)
	assert.Len(t, after.Messages, before)
}

func TestAddMessageUnknownTask(t *testing.T) {
	h, store := newTestHandler(&scriptedAgent{})
	defer store.Close()

	_, rpcErr := h.AddMessage(
		context.Background(), "nope",
		taskmesh.NewTextMessage(taskmesh.RoleUser, "hello"),
	)

	assert.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrTaskNotFound.Code, rpcErr.Code)
}

func TestCancelTask(t *testing.T) {
	h, store := newTestHandler(&scriptedAgent{})
	defer store.Close()

	task, _ := h.CreateTask(context.Background(), CreateTaskRequest{
		AgentID: "scripted",
		Stream:  true,
	})

	cancelled, rpcErr := h.CancelTask(context.Background(), task.ID)
	assert.Nil(t, rpcErr)
	assert.Equal(t, taskmesh.StatusCancelled, cancelled.Status)

	_, rpcErr = h.CancelTask(context.Background(), task.ID)
	assert.NotNil(t, rpcErr)
	assert.Equal(t, errors.ErrTaskTerminal.Code, rpcErr.Code)
}

func TestListTasks(t *testing.T) {
	h, store := newTestHandler(&scriptedAgent{})
	defer store.Close()

	for i := 0; i < 3; i++ {
		_, _ = h.CreateTask(context.Background(), CreateTaskRequest{AgentID: "scripted"})
	}

	list, rpcErr := h.ListTasks(context.Background(), stores.TaskFilter{})
	assert.Nil(t, rpcErr)
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Tasks, 3)
}

func TestCapabilities(t *testing.T) {
	h, store := newTestHandler(&scriptedAgent{})
	defer store.Close()

	caps := h.Capabilities()

	assert.Equal(t, "test", caps.Name)
	assert.True(t, caps.Streaming)
	assert.Contains(t, caps.Operations, "tasks/create")
	assert.Contains(t, caps.Operations, "tasks/stream")
	assert.Contains(t, caps.PartTypes, taskmesh.PartTypeText)
}
