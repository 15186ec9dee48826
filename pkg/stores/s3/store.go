package s3

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh-go/pkg/errors"
	"github.com/taskmesh/taskmesh-go/pkg/stores"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

const (
	taskPrefix = "tasks/"
	shardCount = 64

	defaultMaxMessages = 1000
)

/*
Store is an S3 implementation of the TaskStore interface.  Each task lives
as one JSON object under tasks/<id>.json; the same invariants the memory
store enforces (transition legality, terminal immutability, per-task
mutation ordering) are enforced here before a write ever reaches the
bucket.  The striped locks serialize mutations within this process;
deployments that share one bucket across processes should shard tasks by
process instead.
*/
// objectAPI is the slice of Conn the store actually uses.
type objectAPI interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

type Store struct {
	conn        objectAPI
	shards      [shardCount]sync.Mutex
	maxMessages int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxMessages caps the message list length per task.
func WithMaxMessages(n int) Option {
	return func(s *Store) { s.maxMessages = n }
}

func NewStore(conn *Conn, opts ...Option) *Store {
	store := &Store{conn: conn, maxMessages: defaultMaxMessages}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (store *Store) shard(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &store.shards[h.Sum32()%shardCount]
}

func taskKey(id string) string {
	return taskPrefix + id + ".json"
}

func (store *Store) load(ctx context.Context, id string) (*taskmesh.Task, *errors.ProtocolError) {
	buf, err := store.conn.Get(ctx, taskKey(id))
	if err != nil {
		return nil, errors.ErrTaskNotFound.WithMessagef("no task with id %q", id)
	}

	var task taskmesh.Task
	if err := json.Unmarshal(buf, &task); err != nil {
		log.Error("failed to unmarshal task", "error", err, "task", id)
		return nil, errors.ErrInternal.WithMessagef("failed to unmarshal task: %v", err)
	}

	return &task, nil
}

func (store *Store) save(ctx context.Context, task *taskmesh.Task) *errors.ProtocolError {
	data, err := json.Marshal(task)
	if err != nil {
		log.Error("failed to marshal task", "error", err, "task", task.ID)
		return errors.ErrInternal.WithMessagef("failed to marshal task: %v", err)
	}

	if err := store.conn.Put(ctx, taskKey(task.ID), data); err != nil {
		log.Error("failed to store task", "error", err, "task", task.ID)
		return errors.ErrInternal.WithMessagef("failed to store task: %v", err)
	}

	return nil
}

func (store *Store) Create(
	ctx context.Context, agentID string, initial *taskmesh.Message, taskContext map[string]any,
) (*taskmesh.Task, *errors.ProtocolError) {
	now := time.Now().UTC()

	task := &taskmesh.Task{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Status:    taskmesh.StatusCreated,
		Context:   taskContext,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if initial != nil {
		task.Messages = []taskmesh.Message{*initial}
	}

	if rpcErr := store.save(ctx, task); rpcErr != nil {
		return nil, rpcErr
	}

	return task, nil
}

func (store *Store) Get(
	ctx context.Context, id string,
) (*taskmesh.Task, *errors.ProtocolError) {
	return store.load(ctx, id)
}

func (store *Store) UpdateStatus(
	ctx context.Context, id string, status taskmesh.TaskStatus, reason string,
) (*taskmesh.Task, *errors.ProtocolError) {
	lock := store.shard(id)
	lock.Lock()
	defer lock.Unlock()

	task, rpcErr := store.load(ctx, id)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if task.Status.Terminal() {
		return nil, errors.ErrTaskTerminal.WithMessagef(
			"task %s is already %s", id, task.Status,
		)
	}

	if !task.Status.CanTransition(status) {
		log.Error("illegal task transition requested",
			"task", id, "from", task.Status, "to", status)
		return nil, errors.ErrInvalidTransition.WithMessagef(
			"cannot transition task %s from %s to %s", id, task.Status, status,
		)
	}

	task.Status = status
	task.UpdatedAt = time.Now().UTC()

	if status == taskmesh.StatusFailed {
		task.Error = reason
	} else {
		task.Error = ""
	}

	if rpcErr := store.save(ctx, task); rpcErr != nil {
		return nil, rpcErr
	}

	return task, nil
}

func (store *Store) AppendMessage(
	ctx context.Context, id string, msg taskmesh.Message,
) (*taskmesh.Task, *errors.ProtocolError) {
	lock := store.shard(id)
	lock.Lock()
	defer lock.Unlock()

	task, rpcErr := store.load(ctx, id)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if task.Status.Terminal() {
		return nil, errors.ErrTaskTerminal.WithMessagef(
			"task %s is already %s", id, task.Status,
		)
	}

	if len(task.Messages) >= store.maxMessages {
		return nil, errors.ErrMessageCapExceeded.WithMessagef(
			"task %s holds %d messages", id, len(task.Messages),
		)
	}

	task.Messages = append(task.Messages, msg)
	task.UpdatedAt = time.Now().UTC()

	if rpcErr := store.save(ctx, task); rpcErr != nil {
		return nil, rpcErr
	}

	return task, nil
}

func (store *Store) List(
	ctx context.Context, filter stores.TaskFilter,
) ([]taskmesh.Task, int, *errors.ProtocolError) {
	keys, err := store.conn.ListKeys(ctx, taskPrefix)
	if err != nil {
		log.Error("failed to list tasks", "error", err)
		return nil, 0, errors.ErrInternal.WithMessagef("failed to list tasks: %v", err)
	}

	matched := make([]taskmesh.Task, 0, len(keys))

	for _, key := range keys {
		buf, err := store.conn.Get(ctx, key)
		if err != nil {
			continue
		}

		var task taskmesh.Task
		if err := json.Unmarshal(buf, &task); err != nil {
			log.Warn("skipping unreadable task object", "key", key, "error", err)
			continue
		}

		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.AgentID != "" && task.AgentID != filter.AgentID {
			continue
		}

		matched = append(matched, task)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	offset := filter.Offset
	if offset > total {
		offset = total
	}

	end := offset + limit
	if end > total {
		end = total
	}

	return matched[offset:end], total, nil
}
