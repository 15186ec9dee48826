package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskmesh/taskmesh-go/pkg/errors"
	"github.com/taskmesh/taskmesh-go/pkg/handler"
	"github.com/taskmesh/taskmesh-go/pkg/stores"
	"github.com/taskmesh/taskmesh-go/pkg/taskmesh"
)

// mockServer fakes just enough of the REST surface for client tests.
func mockServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req handler.CreateTaskRequest

			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(taskmesh.Task{
				ID:      "t1",
				AgentID: req.AgentID,
				Status:  taskmesh.StatusCompleted,
			})
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(handler.TaskList{
				Tasks: []taskmesh.Task{{ID: "t1"}, {ID: "t2"}},
				Total: 7,
			})
		}
	})

	mux.HandleFunc("/tasks/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"task_not_found","message":"no task"}}`))
	})

	mux.HandleFunc("/tasks/t1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(taskmesh.Task{ID: "t1", Status: taskmesh.StatusWorking})
	})

	mux.HandleFunc("/tasks/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`data: {"task_id":"t1","event_type":"status","status":"created"}` + "\n\n"))
		w.Write([]byte(`data: {"task_id":"t1","event_type":"complete","task":{"task_id":"t1","status":"completed"}}` + "\n\n"))
		w.(http.Flusher).Flush()
	})

	mux.HandleFunc("/.well-known/capabilities.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(taskmesh.Capabilities{Name: "mock", Streaming: true})
	})

	return httptest.NewServer(mux)
}

func TestClientCreateTask(t *testing.T) {
	server := mockServer(t)
	defer server.Close()

	c := New(server.URL)

	task, err := c.CreateTask(context.Background(), handler.CreateTaskRequest{
		AgentID: "echo",
	})

	assert.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, "echo", task.AgentID)
	assert.Equal(t, taskmesh.StatusCompleted, task.Status)
}

func TestClientGetTask(t *testing.T) {
	server := mockServer(t)
	defer server.Close()

	c := New(server.URL)

	task, err := c.GetTask(context.Background(), "t1")
	assert.NoError(t, err)
	assert.Equal(t, taskmesh.StatusWorking, task.Status)
}

func TestClientErrorTaxonomy(t *testing.T) {
	server := mockServer(t)
	defer server.Close()

	c := New(server.URL)

	_, err := c.GetTask(context.Background(), "missing")

	assert.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTaskNotFound)

	var protoErr *errors.ProtocolError

	assert.ErrorAs(t, err, &protoErr)
	assert.Equal(t, http.StatusNotFound, protoErr.Status)
}

func TestClientListTasks(t *testing.T) {
	server := mockServer(t)
	defer server.Close()

	c := New(server.URL)

	list, err := c.ListTasks(context.Background(), stores.TaskFilter{Limit: 2})
	assert.NoError(t, err)
	assert.Equal(t, 7, list.Total)
	assert.Len(t, list.Tasks, 2)
}

func TestClientCapabilities(t *testing.T) {
	server := mockServer(t)
	defer server.Close()

	c := New(server.URL)

	caps, err := c.Capabilities(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "mock", caps.Name)
	assert.True(t, caps.Streaming)
}

func TestClientStream(t *testing.T) {
	server := mockServer(t)
	defer server.Close()

	c := New(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := c.Stream(ctx, handler.CreateTaskRequest{AgentID: "echo", Stream: true})
	assert.NoError(t, err)

	var got []taskmesh.StreamEvent

	for ev := range events {
		got = append(got, ev)

		if ev.Type == taskmesh.EventTypeComplete {
			break
		}
	}

	cancel()

	assert.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, taskmesh.EventTypeStatus, got[0].Type)
	assert.Equal(t, taskmesh.StatusCreated, got[0].Status)

	last := got[len(got)-1]
	assert.Equal(t, taskmesh.EventTypeComplete, last.Type)
	assert.Equal(t, taskmesh.StatusCompleted, last.Task.Status)
}
