package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatfabrica-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   map[string]interface{}
}

type fakeOpenAI struct {
	mu       sync.Mutex
	calls    []recorded
	uploaded string
}

func (f *fakeOpenAI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-user", r.Header.Get("Authorization"))
		assert.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))

		rec := recorded{method: r.Method, path: r.URL.Path}
		if r.URL.Path == "/files" && r.Method == http.MethodPost {
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "assistants", r.FormValue("purpose"))
			file, header, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			content, _ := io.ReadAll(file)
			f.mu.Lock()
			f.uploaded = header.Filename + ":" + string(content)
			f.mu.Unlock()
		} else if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		f.mu.Lock()
		f.calls = append(f.calls, rec)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/assistants" && r.Method == http.MethodPost:
			_, _ = io.WriteString(w, `{"id":"asst_1"}`)
		case r.URL.Path == "/files" && r.Method == http.MethodPost:
			_, _ = io.WriteString(w, `{"id":"file_1"}`)
		case r.URL.Path == "/files/file_bad":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"message":"No such File object"}}`)
		case r.URL.Path == "/vector_stores":
			_, _ = io.WriteString(w, `{"id":"vs_1"}`)
		case r.URL.Path == "/threads":
			_, _ = io.WriteString(w, `{"id":"thread_1"}`)
		case r.URL.Path == "/threads/thread_1/runs" && r.Method == http.MethodPost:
			_, _ = io.WriteString(w, `{"id":"run_1","status":"queued"}`)
		case r.URL.Path == "/threads/thread_1/runs/run_1":
			_, _ = io.WriteString(w, `{"id":"run_1","status":"completed"}`)
		case r.URL.Path == "/threads/thread_1/messages" && r.Method == http.MethodGet:
			assert.Equal(t, "desc", r.URL.Query().Get("order"))
			_, _ = io.WriteString(w, `{"data":[
				{"id":"m2","role":"assistant","content":[{"type":"text","text":{"value":"Paris","annotations":[]}}]},
				{"id":"m1","role":"user","content":[{"type":"text","text":{"value":"capital?","annotations":[]}}]}
			]}`)
		default:
			_, _ = io.WriteString(w, `{}`)
		}
	})
}

func newTestClient(t *testing.T) (Client, *fakeOpenAI) {
	fake := &fakeOpenAI{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	factory := NewFactory(config.OpenAIConfig{BaseURL: srv.URL + "/", RequestTimeout: 5 * time.Second})
	client, err := factory.ForUser("sk-user")
	require.NoError(t, err)
	return client, fake
}

func TestForUserRequiresKey(t *testing.T) {
	factory := NewFactory(config.OpenAIConfig{BaseURL: "http://unused"})
	_, err := factory.ForUser("  ")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestAssistantLifecycle(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	id, err := client.CreateAssistant(ctx, AssistantParams{Name: "Untitled 1", Instructions: "be nice", Model: "gpt-4o-mini", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "asst_1", id)

	name := "Renamed"
	require.NoError(t, client.UpdateAssistant(ctx, id, AssistantFields{Name: &name}))
	require.NoError(t, client.AttachVectorStore(ctx, id, "vs_9"))
	require.NoError(t, client.DeleteAssistant(ctx, id))

	require.Len(t, fake.calls, 4)
	create := fake.calls[0].body
	assert.Equal(t, "gpt-4o-mini", create["model"])
	assert.Equal(t, []interface{}{map[string]interface{}{"type": "file_search"}}, create["tools"])

	update := fake.calls[1].body
	assert.Equal(t, map[string]interface{}{"name": "Renamed"}, update, "unset fields are omitted")

	attach := fake.calls[2].body["tool_resources"].(map[string]interface{})
	assert.Equal(t, []interface{}{"vs_9"}, attach["file_search"].(map[string]interface{})["vector_store_ids"])
	assert.Equal(t, http.MethodDelete, fake.calls[3].method)
}

func TestUploadDocumentStreamsFile(t *testing.T) {
	client, fake := newTestClient(t)
	path := filepath.Join(t.TempDir(), "notes-ab12.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	id, err := client.UploadDocument(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "file_1", id)
	assert.Equal(t, "notes-ab12.txt:hello world", fake.uploaded)
}

func TestDeleteDocumentsSwallowsFailures(t *testing.T) {
	client, fake := newTestClient(t)
	client.DeleteDocuments(context.Background(), []string{"file_bad", "", "file_ok"})

	require.Len(t, fake.calls, 2)
	assert.Equal(t, "/files/file_bad", fake.calls[0].path)
	assert.Equal(t, "/files/file_ok", fake.calls[1].path)
}

func TestConversationPrimitives(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	vs, err := client.BuildVectorStore(ctx, "7_vector_store", []string{"file_1", "file_2"})
	require.NoError(t, err)
	assert.Equal(t, "vs_1", vs)
	assert.Equal(t, "7_vector_store", fake.calls[0].body["name"])

	thread, err := client.CreateThread(ctx)
	require.NoError(t, err)
	require.NoError(t, client.AppendMessage(ctx, thread, "user", "capital?"))

	runID, err := client.StartRun(ctx, "asst_1", thread)
	require.NoError(t, err)
	assert.Equal(t, "run_1", runID)

	run, err := client.PollRun(ctx, thread, runID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, run.Status)
	assert.True(t, run.Status.Terminal())

	msgs, err := client.ListMessages(ctx, thread, "assistant")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Paris", msgs[0].FirstText())
}

func TestAPIErrorCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided"}}`)
	}))
	defer srv.Close()
	client, err := NewFactory(config.OpenAIConfig{BaseURL: srv.URL}).ForUser("sk-bad")
	require.NoError(t, err)

	_, err = client.CreateThread(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Incorrect API key provided", apiErr.Message)
}

func TestRunStatusTerminal(t *testing.T) {
	for _, s := range []RunStatus{RunQueued, RunInProgress, RunCancelling} {
		assert.False(t, s.Terminal(), s)
	}
	for _, s := range []RunStatus{RunCompleted, RunFailed, RunCancelled, RunExpired, RunRequiresAction} {
		assert.True(t, s.Terminal(), s)
	}
}
