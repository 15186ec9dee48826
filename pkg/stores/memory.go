package stores

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh-go/pkg/errors"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

const (
	// shardCount sizes the striped lock table.  Mutations on the same task
	// id serialize on one shard; distinct tasks proceed independently.
	shardCount = 64

	defaultPageSize    = 50
	defaultMaxMessages = 1000
	defaultRetention   = 24 * time.Hour
)

/*
InMemoryTaskStore is the default TaskStore.  Safe for concurrent use: mu
guards only the map itself (insert, delete, pointer lookup), while each
task's fields are guarded by a striped lock keyed by task id.  Mutations
hold just their shard lock, so writes to distinct tasks proceed in
parallel rather than serializing on a store-wide lock.

Terminal tasks older than the retention window are swept periodically so
the store cannot grow without bound.
*/
type InMemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*taskmesh.Task

	shards [shardCount]sync.Mutex

	retention   time.Duration
	maxMessages int
	stop        chan struct{}
	stopOnce    sync.Once
}

// InMemoryOption configures an InMemoryTaskStore.
type InMemoryOption func(*InMemoryTaskStore)

// WithRetention overrides how long terminal tasks are kept before sweeping.
func WithRetention(d time.Duration) InMemoryOption {
	return func(s *InMemoryTaskStore) { s.retention = d }
}

// WithMaxMessages caps the message list length per task.
func WithMaxMessages(n int) InMemoryOption {
	return func(s *InMemoryTaskStore) { s.maxMessages = n }
}

func NewInMemoryTaskStore(opts ...InMemoryOption) *InMemoryTaskStore {
	store := &InMemoryTaskStore{
		tasks:       make(map[string]*taskmesh.Task),
		retention:   defaultRetention,
		maxMessages: defaultMaxMessages,
		stop:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(store)
	}

	go store.sweepLoop()

	return store
}

// Close stops the background sweeper (idempotent).
func (store *InMemoryTaskStore) Close() {
	store.stopOnce.Do(func() { close(store.stop) })
}

func (store *InMemoryTaskStore) shard(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &store.shards[h.Sum32()%shardCount]
}

// lookup resolves the live task pointer.  mu only guards the map itself;
// the returned task's fields are guarded by its shard lock, which the
// caller must already hold.  Lock order is always shard before mu.
func (store *InMemoryTaskStore) lookup(id string) (*taskmesh.Task, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	task, ok := store.tasks[id]

	return task, ok
}

/*
Create allocates a fresh task with a unique id.  It never fails except on
resource exhaustion, which Go surfaces as a panic rather than an error.
*/
func (store *InMemoryTaskStore) Create(
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

	// Clone before publishing; once the task is in the map another
	// goroutine may mutate it under its shard lock.
	cloned := task.Clone()

	store.mu.Lock()
	store.tasks[task.ID] = task
	store.mu.Unlock()

	return cloned, nil
}

func (store *InMemoryTaskStore) Get(
	ctx context.Context, id string,
) (*taskmesh.Task, *errors.ProtocolError) {
	lock := store.shard(id)
	lock.Lock()
	defer lock.Unlock()

	task, ok := store.lookup(id)
	if !ok {
		return nil, errors.ErrTaskNotFound.WithMessagef("no task with id %q", id)
	}

	return task.Clone(), nil
}

/*
UpdateStatus validates the requested transition against the state machine
before applying it.  Terminal tasks reject every mutation; an edge missing
from the table is a contract violation and is logged as such.

reason populates the task error and is only meaningful when transitioning
to failed; the error field is cleared on every other transition so it is
set if and only if the task is failed.
*/
func (store *InMemoryTaskStore) UpdateStatus(
	ctx context.Context, id string, status taskmesh.TaskStatus, reason string,
) (*taskmesh.Task, *errors.ProtocolError) {
	// Only the shard lock is held across the mutation, so writes to
	// distinct tasks proceed in parallel.
	lock := store.shard(id)
	lock.Lock()
	defer lock.Unlock()

	task, ok := store.lookup(id)
	if !ok {
		return nil, errors.ErrTaskNotFound.WithMessagef("no task with id %q", id)
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

	return task.Clone(), nil
}

/*
AppendMessage appends one message to the task transcript.  The list only
ever grows; terminal tasks reject the append outright.
*/
func (store *InMemoryTaskStore) AppendMessage(
	ctx context.Context, id string, msg taskmesh.Message,
) (*taskmesh.Task, *errors.ProtocolError) {
	lock := store.shard(id)
	lock.Lock()
	defer lock.Unlock()

	task, ok := store.lookup(id)
	if !ok {
		return nil, errors.ErrTaskNotFound.WithMessagef("no task with id %q", id)
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

	return task.Clone(), nil
}

/*
List returns a page of tasks matching the filter, newest first, along with
the total number of matches before pagination.
*/
func (store *InMemoryTaskStore) List(
	ctx context.Context, filter TaskFilter,
) ([]taskmesh.Task, int, *errors.ProtocolError) {
	store.mu.RLock()
	ids := make([]string, 0, len(store.tasks))

	for id := range store.tasks {
		ids = append(ids, id)
	}
	store.mu.RUnlock()

	// Each clone is taken under the task's shard lock so a concurrent
	// mutation cannot be observed half-applied.
	matched := make([]taskmesh.Task, 0, len(ids))

	for _, id := range ids {
		lock := store.shard(id)
		lock.Lock()

		task, ok := store.lookup(id)
		if !ok {
			lock.Unlock()
			continue
		}

		if (filter.Status != "" && task.Status != filter.Status) ||
			(filter.AgentID != "" && task.AgentID != filter.AgentID) {
			lock.Unlock()
			continue
		}

		matched = append(matched, *task.Clone())
		lock.Unlock()
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
		limit = defaultPageSize
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

/*
Sweep removes terminal tasks whose last update is older than the retention
window.  It returns the number of tasks removed.
*/
func (store *InMemoryTaskStore) Sweep() int {
	cutoff := time.Now().UTC().Add(-store.retention)

	store.mu.RLock()
	ids := make([]string, 0, len(store.tasks))

	for id := range store.tasks {
		ids = append(ids, id)
	}
	store.mu.RUnlock()

	removed := 0

	for _, id := range ids {
		lock := store.shard(id)
		lock.Lock()

		// Re-check under the shard lock; the task may have changed or
		// vanished since the id snapshot.
		if task, ok := store.lookup(id); ok &&
			task.Status.Terminal() && task.UpdatedAt.Before(cutoff) {
			store.mu.Lock()
			delete(store.tasks, id)
			store.mu.Unlock()
			removed++
		}

		lock.Unlock()
	}

	if removed > 0 {
		log.Debug("swept terminal tasks", "count", removed)
	}

	return removed
}

func (store *InMemoryTaskStore) sweepLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			store.Sweep()
		case <-store.stop:
			return
		}
	}
}
