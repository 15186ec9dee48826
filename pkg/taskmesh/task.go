package taskmesh

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

/*
TaskStatus enumerates the mutually-exclusive states a task may be in.  The
values are part of the wire contract and never change meaning.
*/
type TaskStatus string

const (
	StatusCreated       TaskStatus = "created"
	StatusWorking       TaskStatus = "working"
	StatusInputRequired TaskStatus = "input-required"
	StatusCompleted     TaskStatus = "completed"
	StatusFailed        TaskStatus = "failed"
	StatusCancelled     TaskStatus = "cancelled"
)

// transitions is the authoritative edge table for the task state machine.
// Any transition not listed here is illegal.
var transitions = map[TaskStatus][]TaskStatus{
	StatusCreated:       {StatusWorking, StatusCancelled},
	StatusWorking:       {StatusInputRequired, StatusCompleted, StatusFailed, StatusCancelled},
	StatusInputRequired: {StatusWorking, StatusCancelled},
	StatusCompleted:     {},
	StatusFailed:        {},
	StatusCancelled:     {},
}

// Terminal reports whether the status permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether the edge s -> to exists in the state machine.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

/*
Task is one unit of protocol-level work with its own lifecycle and message
thread.  Task ids are opaque, globally unique for the lifetime of the
store, and never reused.  Once a task reaches a terminal status its status
and message list are immutable.

Error is populated if and only if Status is failed.
*/
type Task struct {
	ID        string         `json:"task_id"`
	AgentID   string         `json:"agent_id"`
	Status    TaskStatus     `json:"status"`
	Messages  []Message      `json:"messages"`
	Context   map[string]any `json:"context,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// LastMessage returns the most recent message, or nil for an empty thread.
func (task *Task) LastMessage() *Message {
	if len(task.Messages) == 0 {
		return nil
	}
	return &task.Messages[len(task.Messages)-1]
}

/*
Clone returns a deep copy of the task.  Stores hand out clones so callers
can never mutate shared state behind the store's back.
*/
func (task *Task) Clone() *Task {
	out := *task

	out.Messages = make([]Message, len(task.Messages))
	copy(out.Messages, task.Messages)

	if task.Context != nil {
		out.Context = make(map[string]any, len(task.Context))
		for k, v := range task.Context {
			out.Context[k] = v
		}
	}

	return &out
}

/*
Flatten reduces the whole conversation transcript to a single string for
agent input, one flattened message per line block.
*/
func (task *Task) Flatten() string {
	segments := make([]string, 0, len(task.Messages))

	for i := range task.Messages {
		segments = append(segments, task.Messages[i].Flatten())
	}

	return strings.Join(segments, "\n")
}

func (task *Task) String() string {
	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("212")).
		Bold(true)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("252"))

	sectionStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		Bold(true)

	indent := "   "
	bullet := "│ "

	sb.WriteString(headerStyle.Render("Task") + "\n")
	sb.WriteString(bullet + labelStyle.Render("ID: ") + valueStyle.Render(task.ID) + "\n")
	sb.WriteString(bullet + labelStyle.Render("Agent: ") + valueStyle.Render(task.AgentID) + "\n")
	sb.WriteString(bullet + labelStyle.Render("Status: ") + valueStyle.Render(string(task.Status)) + "\n")

	if task.Error != "" {
		sb.WriteString(bullet + labelStyle.Render("Error: ") + valueStyle.Render(task.Error) + "\n")
	}

	sb.WriteString(bullet + labelStyle.Render("Updated: ") + valueStyle.Render(task.UpdatedAt.Format(time.RFC3339)) + "\n")

	if len(task.Messages) > 0 {
		sb.WriteString("\n" + sectionStyle.Render("Messages") + "\n")
		for i := range task.Messages {
			msg := &task.Messages[i]
			sb.WriteString(bullet + labelStyle.Render(fmt.Sprintf("Message %d", i+1)) + "\n")
			sb.WriteString(bullet + indent + labelStyle.Render("Role: ") + valueStyle.Render(string(msg.Role)) + "\n")
			sb.WriteString(bullet + indent + labelStyle.Render("Content: ") + valueStyle.Render(msg.Flatten()) + "\n")
		}
	}

	if len(task.Context) > 0 {
		sb.WriteString("\n" + sectionStyle.Render("Context") + "\n")
		keys := make([]string, 0, len(task.Context))
		for k := range task.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(bullet + labelStyle.Render(k+": ") + valueStyle.Render(fmt.Sprintf("%v", task.Context[k])) + "\n")
		}
	}

	return sb.String()
}
