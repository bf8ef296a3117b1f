package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/tasksync/internal/config"
	"github.com/kazz187/tasksync/internal/doc"
	"github.com/kazz187/tasksync/internal/eventbus"
	"github.com/kazz187/tasksync/internal/metrics"
	"github.com/kazz187/tasksync/internal/orchestrator"
	"github.com/kazz187/tasksync/internal/pushsubscription"
	"github.com/kazz187/tasksync/internal/recordstore"
	"github.com/kazz187/tasksync/internal/task"
	"github.com/kazz187/tasksync/pkg/cerr"
	"github.com/kazz187/tasksync/pkg/storage"
)

const testAPIKey = "secret"

// memoryBoard is a Board without any syncing behind it.
type memoryBoard struct {
	tasks []task.Task
	pulls int
}

func (b *memoryBoard) Tasks(context.Context) ([]task.Task, error) {
	return task.CloneAll(b.tasks), nil
}

func (b *memoryBoard) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	t = task.New(t, "kami")
	b.tasks = append(b.tasks, t)
	return t, nil
}

func (b *memoryBoard) UpdateTask(_ context.Context, id string, p orchestrator.Patch) (task.Task, error) {
	for i := range b.tasks {
		if b.tasks[i].ID == id {
			if p.Status != nil {
				if !p.Status.Valid() {
					return task.Task{}, cerr.NewError(cerr.InvalidArgument, "unknown status", nil)
				}
				b.tasks[i].Status = *p.Status
			}
			if p.Title != nil {
				b.tasks[i].Title = *p.Title
			}
			return b.tasks[i], nil
		}
	}
	return task.Task{}, cerr.NewError(cerr.NotFound, fmt.Sprintf("task %s not found", id), nil)
}

func (b *memoryBoard) MoveTask(ctx context.Context, id string, status task.Status) (task.Task, error) {
	return b.UpdateTask(ctx, id, orchestrator.Patch{Status: &status})
}

func (b *memoryBoard) DeleteTask(_ context.Context, id string) error {
	for i := range b.tasks {
		if b.tasks[i].ID == id {
			b.tasks = append(b.tasks[:i], b.tasks[i+1:]...)
			return nil
		}
	}
	return cerr.NewError(cerr.NotFound, fmt.Sprintf("task %s not found", id), nil)
}

func (b *memoryBoard) RequestPull(ctx context.Context) ([]task.Task, error) {
	b.pulls++
	return b.Tasks(ctx)
}

type testServer struct {
	board   *memoryBoard
	uploads *storage.MemoryStorage
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	env := &config.Env{}
	env.APIKey = testAPIKey
	env.VAPIDEnv.PublicKey = "public"
	board := &memoryBoard{}
	uploads := storage.NewMemoryStorage()
	subs := pushsubscription.NewRecordRepository(recordstore.New(storage.NewMemoryStorage(), nil))
	s := NewServer(env, board, uploads, subs, metrics.New(), eventbus.New())
	return &testServer{board: board, uploads: uploads, handler: s.Handler()}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_APIKey(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		path   string
		header string
		value  string
		want   int
	}{
		{name: "missing key", path: "/api/tasks", want: http.StatusUnauthorized},
		{name: "wrong key", path: "/api/tasks", header: "X-API-Key", value: "nope", want: http.StatusUnauthorized},
		{name: "x-api-key", path: "/api/tasks", header: "X-API-Key", value: testAPIKey, want: http.StatusOK},
		{name: "bearer", path: "/api/tasks", header: "Authorization", value: "Bearer " + testAPIKey, want: http.StatusOK},
		{name: "health without key", path: "/health", want: http.StatusOK},
		{name: "metrics without key", path: "/metrics", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_TaskLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/tasks", task.Task{Title: "Morning Brief", Type: task.KindCron, Schedule: "Daily 12:30"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	rec = ts.do(t, http.MethodPost, "/api/tasks/"+created.ID+"/move", map[string]string{"status": "REVIEW"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list tasksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, task.StatusReview, list.Tasks[0].Status)

	rec = ts.do(t, http.MethodPost, "/api/sync/pull", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.board.pulls)

	rec = ts.do(t, http.MethodDelete, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, ts.board.tasks)
}

func TestServer_TaskErrors(t *testing.T) {
	ts := newTestServer(t)
	created, err := ts.board.CreateTask(context.Background(), task.Task{Title: "x"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{name: "delete missing", method: http.MethodDelete, path: "/api/tasks/nope", wantCode: http.StatusNotFound, wantErr: "not_found"},
		{name: "bad status", method: http.MethodPost, path: "/api/tasks/" + created.ID + "/move", body: map[string]string{"status": "DONE"}, wantCode: http.StatusBadRequest, wantErr: "invalid_argument"},
		{name: "unknown field", method: http.MethodPost, path: "/api/tasks", body: map[string]string{"color": "red"}, wantCode: http.StatusBadRequest, wantErr: "invalid_argument"},
		{name: "unknown route", method: http.MethodGet, path: "/api/nope", wantCode: http.StatusNotFound, wantErr: "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			var body httpErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body.Code)
		})
	}
}

type httpErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func TestServer_Upload(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.md")
	require.NoError(t, err)
	_, err = fw.Write([]byte("# notes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, doc.FileTypeMD, res.FileType)
	assert.True(t, strings.HasPrefix(res.FilePath, "uploads/"))
	assert.True(t, strings.HasSuffix(res.FilePath, "-notes.md"))

	data, err := ts.uploads.Read(context.Background(), res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "# notes", string(data))
}

func TestServer_UploadWithoutFile(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/uploads", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_PushSubscriptions(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/push-subscriptions/vapid-public-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"public_key":"public"}`, rec.Body.String())

	sub := map[string]any{
		"endpoint": "https://push.example/a",
		"keys":     map[string]string{"p256dh": "key", "auth": "auth"},
	}
	rec = ts.do(t, http.MethodPost, "/api/push-subscriptions", sub)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, "/api/push-subscriptions?endpoint=https%3A%2F%2Fpush.example%2Fa", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/push-subscriptions?endpoint=https%3A%2F%2Fpush.example%2Fa", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
