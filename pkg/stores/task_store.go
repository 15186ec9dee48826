package stores

import (
	"context"

	"github.com/taskmesh/taskmesh-go/pkg/errors"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

/*
TaskStore is the authoritative owner of task records.  It is the single
point enforcing transition legality, terminal immutability and per-task
mutation ordering; nothing else in the repository mutates a task directly.
*/
type TaskStore interface {
	Create(ctx context.Context, agentID string, initial *taskmesh.Message, taskContext map[string]any) (*taskmesh.Task, *errors.ProtocolError)
	Get(ctx context.Context, id string) (*taskmesh.Task, *errors.ProtocolError)
	UpdateStatus(ctx context.Context, id string, status taskmesh.TaskStatus, reason string) (*taskmesh.Task, *errors.ProtocolError)
	AppendMessage(ctx context.Context, id string, msg taskmesh.Message) (*taskmesh.Task, *errors.ProtocolError)
	List(ctx context.Context, filter TaskFilter) ([]taskmesh.Task, int, *errors.ProtocolError)
}

/*
TaskFilter narrows a List call.  Zero values mean "no constraint"; Limit 0
falls back to the store's default page size.
*/
type TaskFilter struct {
	Status  taskmesh.TaskStatus
	AgentID string
	Limit   int
	Offset  int
}
