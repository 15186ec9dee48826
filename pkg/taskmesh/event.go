package taskmesh

/*
EventType discriminates the kinds of stream notifications a task emits.
*/
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeMessage  EventType = "message"
	EventTypeError    EventType = "error"
	EventTypeComplete EventType = "complete"
)

/*
StreamEvent is the wire representation of one task state change, emitted in
the order changes occur.  Events are transient: they are never persisted,
the durable record lives in the task itself.

Exactly one of Status, Part, Error or Task is populated, matching Type.
*/
type StreamEvent struct {
	TaskID string    `json:"task_id"`
	Type   EventType `json:"event_type"`

	Status TaskStatus `json:"status,omitempty"`
	Part   *Part      `json:"part,omitempty"`
	Error  string     `json:"error,omitempty"`
	Task   *Task      `json:"task,omitempty"`
}

func NewStatusEvent(taskID string, status TaskStatus) StreamEvent {
	return StreamEvent{TaskID: taskID, Type: EventTypeStatus, Status: status}
}

func NewMessageEvent(taskID string, part Part) StreamEvent {
	return StreamEvent{TaskID: taskID, Type: EventTypeMessage, Part: &part}
}

func NewErrorEvent(taskID string, message string) StreamEvent {
	return StreamEvent{TaskID: taskID, Type: EventTypeError, Error: message}
}

func NewCompleteEvent(task *Task) StreamEvent {
	return StreamEvent{TaskID: task.ID, Type: EventTypeComplete, Task: task}
}
