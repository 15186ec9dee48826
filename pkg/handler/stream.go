package handler

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/taskmesh/taskmesh-go/pkg/agent"
	"github.com/taskmesh/taskmesh-go/pkg/errors"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

// eventBuffer keeps slow consumers from stalling the agent on every chunk.
const eventBuffer = 8

/*
Stream creates a task and drives the agent on the streaming path.  Setup
failures (unknown agent, malformed request) are returned before any channel
exists; everything after that is reported as events.  The returned channel
is closed when the run reaches a resting state or ctx is cancelled.

A cancelled ctx stops event delivery but does not cancel the task: whatever
state the task was in when the consumer went away is the state it stays in.
*/
func (h *Handler) Stream(
	ctx context.Context, req CreateTaskRequest,
) (<-chan taskmesh.StreamEvent, *errors.ProtocolError) {
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

	ch := make(chan taskmesh.StreamEvent, eventBuffer)

	go func() {
		defer close(ch)

		emit := newEmitter(ctx, ch)
		if !emit(taskmesh.NewStatusEvent(task.ID, taskmesh.StatusCreated)) {
			return
		}

		h.runStream(ctx, ag, task.ID, emit)
	}()

	return ch, nil
}

/*
ResumeStream is the streaming form of thread continuation: it appends the
caller's message to an existing non-terminal task and re-drives the agent,
emitting events from the working transition onward.
*/
func (h *Handler) ResumeStream(
	ctx context.Context, id string, msg taskmesh.Message,
) (<-chan taskmesh.StreamEvent, *errors.ProtocolError) {
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

	ch := make(chan taskmesh.StreamEvent, eventBuffer)

	go func() {
		defer close(ch)
		h.runStream(ctx, ag, id, newEmitter(ctx, ch))
	}()

	return ch, nil
}

// emitter sends one event, reporting false once the consumer is gone.
type emitter func(taskmesh.StreamEvent) bool

func newEmitter(ctx context.Context, ch chan<- taskmesh.StreamEvent) emitter {
	return func(ev taskmesh.StreamEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

/*
runStream drives one streaming invocation.  Chunks become message events as
they arrive; the durable record is a single agent-role message appended once
the stream drains.  An error chunk fails the task and terminates the stream,
so at most one terminal event is ever emitted.
*/
func (h *Handler) runStream(ctx context.Context, ag agent.Agent, id string, emit emitter) {
	working, rpcErr := h.store.UpdateStatus(ctx, id, taskmesh.StatusWorking, "")
	if rpcErr != nil {
		emit(taskmesh.NewErrorEvent(id, rpcErr.Message))
		return
	}

	if !emit(taskmesh.NewStatusEvent(id, taskmesh.StatusWorking)) {
		return
	}

	chunks, err := openStream(ctx, ag, working.Flatten())
	if err != nil {
		h.failStream(ctx, id, err, emit)
		return
	}

	var (
		parts      []taskmesh.Part
		needsInput bool
	)

collect:
	for {
		select {
		case <-ctx.Done():
			// Consumer disconnected mid-run.  The task keeps whatever
			// progress was durably recorded and stays non-terminal.
			return
		case chunk, ok := <-chunks:
			if !ok {
				break collect
			}

			switch chunk.Type {
			case agent.ChunkTypeText:
				part := taskmesh.NewTextPart(chunk.Text)
				parts = append(parts, part)

				if chunk.Metadata.NeedsInput {
					needsInput = true
				}
				if !emit(taskmesh.NewMessageEvent(id, part)) {
					return
				}
			case agent.ChunkTypeToolStart, agent.ChunkTypeToolEnd:
				part := toolPart(chunk)
				parts = append(parts, part)

				if !emit(taskmesh.NewMessageEvent(id, part)) {
					return
				}
			case agent.ChunkTypeError:
				h.failStream(ctx, id, chunk.Err, emit)
				return
			default:
				log.Warn("dropping unknown chunk type", "task", id, "type", chunk.Type)
			}
		}
	}

	if len(parts) > 0 {
		if _, rpcErr = h.store.AppendMessage(ctx, id, taskmesh.Message{
			Role:  taskmesh.RoleAgent,
			Parts: parts,
		}); rpcErr != nil {
			emit(taskmesh.NewErrorEvent(id, rpcErr.Message))
			return
		}
	}

	if needsInput {
		if _, rpcErr = h.store.UpdateStatus(
			ctx, id, taskmesh.StatusInputRequired, "",
		); rpcErr != nil {
			emit(taskmesh.NewErrorEvent(id, rpcErr.Message))
			return
		}

		emit(taskmesh.NewStatusEvent(id, taskmesh.StatusInputRequired))
		return
	}

	done, rpcErr := h.store.UpdateStatus(ctx, id, taskmesh.StatusCompleted, "")
	if rpcErr != nil {
		emit(taskmesh.NewErrorEvent(id, rpcErr.Message))
		return
	}

	emit(taskmesh.NewCompleteEvent(done))
}

// failStream records the fault durably, then reports it to the consumer.
func (h *Handler) failStream(ctx context.Context, id string, cause error, emit emitter) {
	log.Warn("agent stream failed", "task", id, "error", cause)

	if _, rpcErr := h.store.UpdateStatus(
		ctx, id, taskmesh.StatusFailed, cause.Error(),
	); rpcErr != nil {
		log.Error("recording stream failure", "task", id, "error", rpcErr)
	}

	emit(taskmesh.NewErrorEvent(id, cause.Error()))
}

// openStream shields the handler from agents that panic instead of erroring.
func openStream(
	ctx context.Context, ag agent.Agent, input string,
) (ch <-chan agent.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch = nil
			err = fmt.Errorf("agent panicked: %v", r)
		}
	}()

	ch, err = ag.Stream(ctx, input)
	if err == nil && ch == nil {
		err = fmt.Errorf("agent returned no stream")
	}

	return ch, err
}

func toolPart(chunk agent.Chunk) taskmesh.Part {
	phase := "start"
	if chunk.Type == agent.ChunkTypeToolEnd {
		phase = "end"
	}

	data := map[string]any{"tool": chunk.Tool, "phase": phase}
	if chunk.Detail != nil {
		data["detail"] = chunk.Detail
	}

	return taskmesh.NewDataPart(data)
}
