package taskmesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusCreated.Terminal())
	assert.False(t, StatusWorking.Terminal())
	assert.False(t, StatusInputRequired.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		want bool
	}{
		{"created to working", StatusCreated, StatusWorking, true},
		{"created to cancelled", StatusCreated, StatusCancelled, true},
		{"created to completed", StatusCreated, StatusCompleted, false},
		{"created to failed", StatusCreated, StatusFailed, false},
		{"created to input-required", StatusCreated, StatusInputRequired, false},
		{"working to input-required", StatusWorking, StatusInputRequired, true},
		{"working to completed", StatusWorking, StatusCompleted, true},
		{"working to failed", StatusWorking, StatusFailed, true},
		{"working to cancelled", StatusWorking, StatusCancelled, true},
		{"working to created", StatusWorking, StatusCreated, false},
		{"working to working", StatusWorking, StatusWorking, false},
		{"input-required to working", StatusInputRequired, StatusWorking, true},
		{"input-required to cancelled", StatusInputRequired, StatusCancelled, true},
		{"input-required to completed", StatusInputRequired, StatusCompleted, false},
		{"completed is terminal", StatusCompleted, StatusWorking, false},
		{"failed is terminal", StatusFailed, StatusWorking, false},
		{"cancelled is terminal", StatusCancelled, StatusWorking, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTaskLastMessage(t *testing.T) {
	task := &Task{}
	assert.Nil(t, task.LastMessage())

	task.Messages = append(task.Messages,
		NewTextMessage(RoleUser, "first"),
		NewTextMessage(RoleAgent, "second"),
	)

	last := task.LastMessage()

	assert.NotNil(t, last)
	assert.Equal(t, RoleAgent, last.Role)
	assert.Equal(t, "second", last.Flatten())
}

func TestTaskClone(t *testing.T) {
	task := &Task{
		ID:        "t1",
		AgentID:   "echo",
		Status:    StatusWorking,
		Messages:  []Message{NewTextMessage(RoleUser, "hello")},
		Context:   map[string]any{"tenant": "acme"},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	clone := task.Clone()
	assert.Equal(t, task, clone)

	// Mutating the clone must not leak back into the original.
	clone.Messages = append(clone.Messages, NewTextMessage(RoleAgent, "hi"))
	clone.Messages[0].Parts[0] = NewTextPart("changed")
	clone.Context["tenant"] = "other"
	clone.Status = StatusCompleted

	assert.Len(t, task.Messages, 1)
	assert.Equal(t, "acme", task.Context["tenant"])
	assert.Equal(t, StatusWorking, task.Status)
}

func TestTaskFlatten(t *testing.T) {
	task := &Task{
		Messages: []Message{
			NewTextMessage(RoleUser, "question"),
			NewTextMessage(RoleAgent, "answer"),
		},
	}

	assert.Equal(t, "question\nanswer", task.Flatten())
	assert.Equal(t, "", (&Task{}).Flatten())
}

func TestTaskString(t *testing.T) {
	task := &Task{
		ID:      "t1",
		AgentID: "echo",
		Status:  StatusFailed,
		Error:   "boom",
		Messages: []Message{
			NewTextMessage(RoleUser, "hello"),
		},
		Context: map[string]any{"k": "v"},
	}

	rendered := task.String()

	assert.Contains(t, rendered, "t1")
	assert.Contains(t, rendered, "echo")
	assert.Contains(t, rendered, "failed")
	assert.Contains(t, rendered, "boom")
	assert.Contains(t, rendered, "hello")
}
