package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"taskboard-project/microservices/api-service/models"
	"taskboard-project/microservices/api-service/query"
	"taskboard-project/microservices/api-service/repositories"
	"taskboard-project/microservices/api-service/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiTask struct {
	ID               string `json:"_id"`
	Name             string `json:"name"`
	Completed        bool   `json:"completed"`
	AssignedUser     string `json:"assignedUser"`
	AssignedUserName string `json:"assignedUserName"`
	Deadline         string `json:"deadline"`
}

type apiUser struct {
	ID           string   `json:"_id"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	PendingTasks []string `json:"pendingTasks"`
}

func newTestRouter(store repositories.Store) http.Handler {
	return NewRouter(
		NewTaskHandler(services.NewTaskService(store)),
		NewUserHandler(services.NewUserService(store)),
		"*",
	)
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) (int, envelope) {
	t.Helper()
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, target, nil)
	case url.Values:
		req = httptest.NewRequest(method, target, strings.NewReader(b.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	case string:
		req = httptest.NewRequest(method, target, strings.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		req = httptest.NewRequest(method, target, strings.NewReader(string(raw)))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec.Code, env
}

func data[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), "data: %s", env.Data)
	return out
}

func TestHome(t *testing.T) {
	h := newTestRouter(repositories.NewMemoryStore())

	for _, path := range []string{"/api", "/api/"} {
		code, env := do(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "OK", env.Message)
		assert.Equal(t, "Task API is running", data[string](t, env))
	}
}

func TestUnknownRoutes(t *testing.T) {
	h := newTestRouter(repositories.NewMemoryStore())

	code, env := do(t, h, http.MethodGet, "/api/projects", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Not Found", env.Message)

	code, env = do(t, h, http.MethodPatch, "/api/tasks", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Equal(t, "Method Not Allowed", env.Message)
}

func TestTaskLifecycle(t *testing.T) {
	h := newTestRouter(repositories.NewMemoryStore())

	code, env := do(t, h, http.MethodPost, "/api/users", map[string]interface{}{"name": "Alice", "email": "Alice@Example.com"})
	require.Equal(t, http.StatusCreated, code)
	alice := data[apiUser](t, env)
	assert.Equal(t, "alice@example.com", alice.Email)
	assert.Empty(t, alice.PendingTasks)

	code, env = do(t, h, http.MethodPost, "/api/tasks", map[string]interface{}{
		"name":         "Write report",
		"deadline":     "2030-01-02T15:04:05Z",
		"completed":    "false",
		"assignedUser": alice.ID,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Task created successfully", env.Message)
	task := data[apiTask](t, env)
	assert.Equal(t, alice.ID, task.AssignedUser)
	assert.Equal(t, "Alice", task.AssignedUserName)
	assert.False(t, task.Completed)

	code, env = do(t, h, http.MethodGet, "/api/users/"+alice.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "User retrieved successfully", env.Message)
	assert.Equal(t, []string{task.ID}, data[apiUser](t, env).PendingTasks)

	code, env = do(t, h, http.MethodGet, "/api/tasks/"+task.ID+"?select="+url.QueryEscape(`{"name": 1}`), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"_id": task.ID, "name": "Write report"}, data[map[string]interface{}](t, env))

	code, env = do(t, h, http.MethodPut, "/api/tasks/"+task.ID, map[string]interface{}{
		"name":         "Write report",
		"deadline":     1893596645000,
		"completed":    true,
		"assignedUser": alice.ID,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Task updated successfully", env.Message)
	assert.True(t, data[apiTask](t, env).Completed)

	_, env = do(t, h, http.MethodGet, "/api/users/"+alice.ID, nil)
	assert.Empty(t, data[apiUser](t, env).PendingTasks, "completed tasks are not pending")

	code, env = do(t, h, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Task deleted successfully", env.Message)
	assert.Equal(t, "Task was deleted and unassigned from any user", data[string](t, env))

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		var body interface{}
		if method == http.MethodPut {
			body = map[string]interface{}{"name": "x", "deadline": "2030-01-01"}
		}
		code, env = do(t, h, method, "/api/tasks/"+task.ID, body)
		assert.Equal(t, http.StatusNotFound, code, method)
		assert.Equal(t, "Task Not Found", env.Message)
		assert.Equal(t, "Task not found", data[string](t, env))
	}
}

func TestListTasks(t *testing.T) {
	h := newTestRouter(repositories.NewMemoryStore())

	for _, name := range []string{"c", "a", "b"} {
		code, _ := do(t, h, http.MethodPost, "/api/tasks", map[string]interface{}{
			"name":      name,
			"deadline":  "2030-01-01",
			"completed": name == "a",
		})
		require.Equal(t, http.StatusCreated, code)
	}

	list := func(params url.Values) (int, envelope) {
		return do(t, h, http.MethodGet, "/api/tasks?"+params.Encode(), nil)
	}

	code, env := list(url.Values{"sort": {`{"name": 1}`}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Tasks retrieved successfully", env.Message)
	tasks := data[[]apiTask](t, env)
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{tasks[0].Name, tasks[1].Name, tasks[2].Name})

	_, env = list(url.Values{"where": {`{"completed": false}`}, "sort": {`{"name": -1}`}, "skip": {"1"}, "limit": {"1"}})
	tasks = data[[]apiTask](t, env)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].Name)

	code, env = list(url.Values{"where": {`{"completed": false}`}, "count": {"true"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Tasks count retrieved successfully", env.Message)
	assert.Equal(t, 2, data[int](t, env))

	code, env = list(url.Values{"where": {`{"_id": "` + primitive.NewObjectID().Hex() + `"}`}})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Task Not Found", env.Message)

	code, env = list(url.Values{"where": {`{"_id": "` + tasks[0].ID + `"}`}})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, data[[]apiTask](t, env), 1)

	tests := []struct {
		params url.Values
		detail string
	}{
		{params: url.Values{"where": {`{"name":`}}, detail: "Invalid JSON in where parameter"},
		{params: url.Values{"sort": {`nope`}}, detail: "Invalid JSON in sort parameter"},
		{params: url.Values{"select": {`[`}}, detail: "Invalid JSON in select parameter"},
		{params: url.Values{"skip": {"-3"}}, detail: "Invalid skip parameter"},
		{params: url.Values{"limit": {"many"}}, detail: "Invalid limit parameter"},
		{params: url.Values{"where": {`{"name": {"$near": 1}}`}}, detail: services.MsgInvalidQuery},
	}
	for _, tt := range tests {
		code, env := list(tt.params)
		assert.Equal(t, http.StatusBadRequest, code, tt.params.Encode())
		assert.Equal(t, "Bad Request", env.Message)
		assert.Equal(t, tt.detail, data[string](t, env))
	}
}

func TestCreateTaskRejections(t *testing.T) {
	store := repositories.NewMemoryStore()
	h := newTestRouter(store)

	tests := []struct {
		name   string
		body   interface{}
		detail string
	}{
		{name: "missing deadline", body: map[string]interface{}{"name": "x"}, detail: services.MsgTaskRequired},
		{name: "blank name", body: map[string]interface{}{"name": "  ", "deadline": "2030-01-01"}, detail: services.MsgTaskRequired},
		{name: "unreadable deadline", body: map[string]interface{}{"name": "x", "deadline": "soon"}, detail: services.MsgTaskRequired},
		{name: "empty body", body: "", detail: services.MsgTaskRequired},
		{name: "malformed json", body: `{"name": `, detail: "Invalid JSON body"},
		{name: "json array", body: `[1, 2]`, detail: "Invalid JSON body"},
		{name: "name too long", body: map[string]interface{}{"name": strings.Repeat("x", 257), "deadline": "2030-01-01"}, detail: "name must be at most 256 characters"},
		{name: "unknown assignee", body: map[string]interface{}{"name": "x", "deadline": "2030-01-01", "assignedUser": primitive.NewObjectID().Hex()}, detail: services.MsgAssignedUser},
		{name: "malformed assignee", body: map[string]interface{}{"name": "x", "deadline": "2030-01-01", "assignedUser": "nobody"}, detail: services.MsgAssignedUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, h, http.MethodPost, "/api/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "Bad Request", env.Message)
			assert.Equal(t, tt.detail, data[string](t, env))
		})
	}

	n, err := store.Tasks().Count(context.Background(), bson.M{})
	require.NoError(t, err)
	assert.Zero(t, n, "rejected creates leave nothing behind")
}

func TestUserEndpoints(t *testing.T) {
	h := newTestRouter(repositories.NewMemoryStore())

	code, env := do(t, h, http.MethodPost, "/api/tasks", url.Values{"name": {"first"}, "deadline": {"2030-01-01"}})
	require.Equal(t, http.StatusCreated, code)
	first := data[apiTask](t, env)
	_, env = do(t, h, http.MethodPost, "/api/tasks", url.Values{"name": {"second"}, "deadline": {"1893456000000"}, "completed": {"TRUE"}})
	second := data[apiTask](t, env)
	assert.True(t, second.Completed)

	code, env = do(t, h, http.MethodPost, "/api/users", url.Values{
		"name":           {"Bob"},
		"email":          {"bob@example.com"},
		"pendingTasks[]": {first.ID, first.ID},
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "User created successfully", env.Message)
	bob := data[apiUser](t, env)
	assert.Equal(t, []string{first.ID}, bob.PendingTasks)

	code, env = do(t, h, http.MethodPost, "/api/users", map[string]interface{}{"name": "Other", "email": "BOB@example.com"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, services.MsgEmailTaken, data[string](t, env))

	code, env = do(t, h, http.MethodPost, "/api/users", map[string]interface{}{"name": "Carol", "email": "carol@example.com", "pendingTasks": []string{first.ID}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, services.MsgTaskOwnedElsewhere, data[string](t, env))

	code, env = do(t, h, http.MethodPost, "/api/users", map[string]interface{}{"email": "dan@example.com"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, services.MsgUserRequired, data[string](t, env))

	code, env = do(t, h, http.MethodPut, "/api/users/"+bob.ID, map[string]interface{}{
		"name":         "Robert",
		"email":        "robert@example.com",
		"pendingTasks": []string{second.ID},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "User updated successfully", env.Message)
	assert.Empty(t, data[apiUser](t, env).PendingTasks, "completed tasks are not kept")

	_, env = do(t, h, http.MethodGet, "/api/tasks/"+first.ID, nil)
	assert.Equal(t, models.UnassignedUserName, data[apiTask](t, env).AssignedUserName)

	code, env = do(t, h, http.MethodPut, "/api/users/"+bob.ID, map[string]interface{}{
		"name":         "Robert",
		"email":        "robert@example.com",
		"pendingTasks": []string{primitive.NewObjectID().Hex()},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, data[string](t, env), "not found")

	code, env = do(t, h, http.MethodGet, "/api/users?count=1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Users count retrieved successfully", env.Message)
	assert.Equal(t, 1, data[int](t, env))

	code, env = do(t, h, http.MethodGet, "/api/users?where="+url.QueryEscape(`{"email": "robert@example.com"}`)+"&select="+url.QueryEscape(`{"pendingTasks": 0}`), nil)
	require.Equal(t, http.StatusOK, code)
	users := data[[]map[string]interface{}](t, env)
	require.Len(t, users, 1)
	assert.NotContains(t, users[0], "pendingTasks")

	code, env = do(t, h, http.MethodDelete, "/api/users/"+bob.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "User and their pending tasks were unassigned", data[string](t, env))

	for _, id := range []string{bob.ID, "not-an-id"} {
		code, env = do(t, h, http.MethodGet, "/api/users/"+id, nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "User Not Found", env.Message)
		assert.Equal(t, "User not found", data[string](t, env))
	}
}

// brokenStore fails every task read with an infrastructure error.
type brokenStore struct {
	*repositories.MemoryStore
}

type brokenTasks struct {
	repositories.Collection[models.Task]
}

var errConnection = errors.New("connection reset by peer")

func (brokenTasks) Find(ctx context.Context, q query.Query) ([]bson.M, error) {
	return nil, errConnection
}

func (brokenTasks) Count(ctx context.Context, filter bson.M) (int64, error) {
	return 0, errConnection
}

func (s brokenStore) Tasks() repositories.Collection[models.Task] {
	return brokenTasks{Collection: s.MemoryStore.Tasks()}
}

func TestStoreFailuresAreHidden(t *testing.T) {
	h := newTestRouter(brokenStore{MemoryStore: repositories.NewMemoryStore()})

	for _, target := range []string{"/api/tasks", "/api/tasks?count=true"} {
		code, env := do(t, h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, "Internal Server Error", env.Message)
		assert.Equal(t, "Failed to retrieve tasks", data[string](t, env))
		assert.NotContains(t, string(env.Data), "connection")
	}
}

func TestResponseHeaders(t *testing.T) {
	h := newTestRouter(repositories.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("X-Request-ID", "trace-me")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "trace-me", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/users/123", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
