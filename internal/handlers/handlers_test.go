package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskforge/apiserver/internal/services"
	"github.com/taskforge/apiserver/internal/store"
	"github.com/taskforge/apiserver/types"
)

// memoryState backs the in-memory repositories. User deletion cascades to
// tokens and tasks the way the database schema does.
type memoryState struct {
	userSeq int
	taskSeq int
	users   map[int]types.User
	tokens  map[int][]string
	tasks   map[int]types.Task
}

func newMemoryState() *memoryState {
	return &memoryState{
		users:  map[int]types.User{},
		tokens: map[int][]string{},
		tasks:  map[int]types.Task{},
	}
}

type memoryUserRepo struct {
	state *memoryState
}

func (r *memoryUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	user, ok := r.state.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memoryUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	for _, user := range r.state.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memoryUserRepo) GetByToken(ctx context.Context, id int, token string) (types.User, error) {
	user, ok := r.state.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	for _, t := range r.state.tokens[id] {
		if t == token {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memoryUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	for _, existing := range r.state.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	r.state.userSeq++
	user.ID = r.state.userSeq
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.state.users[user.ID] = user
	return user, nil
}

func (r *memoryUserRepo) Update(ctx context.Context, user types.User) (types.User, error) {
	if _, ok := r.state.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	for _, existing := range r.state.users {
		if existing.ID != user.ID && existing.Email == user.Email {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	user.UpdatedAt = time.Now()
	r.state.users[user.ID] = user
	return user, nil
}

func (r *memoryUserRepo) Delete(ctx context.Context, id int) error {
	if _, ok := r.state.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.state.users, id)
	delete(r.state.tokens, id)
	for taskID, task := range r.state.tasks {
		if task.OwnerID == id {
			delete(r.state.tasks, taskID)
		}
	}
	return nil
}

func (r *memoryUserRepo) AddToken(ctx context.Context, userID int, token string) error {
	r.state.tokens[userID] = append(r.state.tokens[userID], token)
	return nil
}

func (r *memoryUserRepo) RemoveToken(ctx context.Context, userID int, token string) error {
	kept := r.state.tokens[userID][:0]
	for _, t := range r.state.tokens[userID] {
		if t != token {
			kept = append(kept, t)
		}
	}
	r.state.tokens[userID] = kept
	return nil
}

func (r *memoryUserRepo) RemoveAllTokens(ctx context.Context, userID int) error {
	r.state.tokens[userID] = nil
	return nil
}

type memoryTaskRepo struct {
	state *memoryState
}

func (r *memoryTaskRepo) List(ctx context.Context, ownerID int, filter store.TaskFilter) ([]types.Task, error) {
	tasks := make([]types.Task, 0)
	for _, task := range r.state.tasks {
		if task.OwnerID != ownerID {
			continue
		}
		if filter.Completed != nil && task.Completed != *filter.Completed {
			continue
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		var less bool
		switch filter.SortField {
		case "createdAt":
			less = tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		case "description":
			less = tasks[i].Description < tasks[j].Description
		case "completed":
			less = !tasks[i].Completed && tasks[j].Completed
		default:
			less = tasks[i].ID < tasks[j].ID
		}
		if filter.SortDesc {
			return !less
		}
		return less
	})

	if filter.Skip > 0 {
		if filter.Skip >= len(tasks) {
			return []types.Task{}, nil
		}
		tasks = tasks[filter.Skip:]
	}
	if filter.Limit > 0 && filter.Limit < len(tasks) {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

func (r *memoryTaskRepo) Get(ctx context.Context, ownerID, id int) (types.Task, error) {
	task, ok := r.state.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return types.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (r *memoryTaskRepo) Create(ctx context.Context, task types.Task) (types.Task, error) {
	r.state.taskSeq++
	task.ID = r.state.taskSeq
	// Spread creation instants so createdAt ordering is deterministic.
	task.CreatedAt = time.Now().Add(time.Duration(r.state.taskSeq) * time.Second)
	task.UpdatedAt = task.CreatedAt
	r.state.tasks[task.ID] = task
	return task, nil
}

func (r *memoryTaskRepo) Update(ctx context.Context, task types.Task) (types.Task, error) {
	existing, ok := r.state.tasks[task.ID]
	if !ok || existing.OwnerID != task.OwnerID {
		return types.Task{}, store.ErrNotFound
	}
	task.UpdatedAt = time.Now()
	r.state.tasks[task.ID] = task
	return task, nil
}

func (r *memoryTaskRepo) Delete(ctx context.Context, ownerID, id int) error {
	task, ok := r.state.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(r.state.tasks, id)
	return nil
}

type memoryAvatarStore struct {
	objects map[string][]byte
}

func (s *memoryAvatarStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *memoryAvatarStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memoryAvatarStore) Delete(ctx context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	state := newMemoryState()
	userRepo := &memoryUserRepo{state: state}
	taskRepo := &memoryTaskRepo{state: state}
	avatars := &memoryAvatarStore{objects: map[string][]byte{}}

	userService := services.NewUserService(userRepo, avatars, nil)
	tokenService := services.NewTokenService(userRepo, "test-secret")
	taskService := services.NewTaskService(taskRepo)
	authMiddleware := RequireAuth(tokenService)

	router := chi.NewRouter()
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, userService, tokenService, authMiddleware)
	})
	router.Route("/tasks", func(r chi.Router) {
		TaskRouter(r, taskService, authMiddleware)
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, srv.URL+path, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func signup(t *testing.T, srv *httptest.Server, email string) (types.User, string) {
	t.Helper()

	resp, body := doJSON(t, srv, http.MethodPost, "/users", "", map[string]any{
		"name":     "Test User",
		"email":    email,
		"password": "longenough1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var parsed AuthResponse
	require.NoError(t, json.Unmarshal(body, &parsed))
	require.NotEmpty(t, parsed.Token)
	return parsed.User, parsed.Token
}

func createTask(t *testing.T, srv *httptest.Server, token, description string, completed bool) types.Task {
	t.Helper()

	resp, body := doJSON(t, srv, http.MethodPost, "/tasks", token, map[string]any{
		"description": description,
		"completed":   completed,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var task types.Task
	require.NoError(t, json.Unmarshal(body, &task))
	return task
}

func TestSignup(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodPost, "/users", "", map[string]any{
		"name":     "Ada",
		"email":    "a@b.com",
		"password": "longenough1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var parsed AuthResponse
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, "a@b.com", parsed.User.Email)
	assert.NotEmpty(t, parsed.Token)

	// The credential and avatar fields must never leak into a response.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	var rawUser map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["user"], &rawUser))
	assert.NotContains(t, rawUser, "password")
	assert.NotContains(t, rawUser, "password_hash")
	assert.NotContains(t, rawUser, "avatar_key")
}

func TestSignupValidationFailures(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"short password", map[string]any{"name": "A", "email": "a@b.com", "password": "short1"}},
		{"password literal uppercase", map[string]any{"name": "A", "email": "a@b.com", "password": "myPASSWORDx"}},
		{"bad email", map[string]any{"name": "A", "email": "nope", "password": "longenough1"}},
		{"negative age", map[string]any{"name": "A", "email": "a@b.com", "password": "longenough1", "age": -3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doJSON(t, srv, http.MethodPost, "/users", "", tt.payload)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	srv := newTestServer(t)
	signup(t, srv, "a@b.com")

	resp, _ := doJSON(t, srv, http.MethodPost, "/users", "", map[string]any{
		"name":     "Other",
		"email":    "a@b.com",
		"password": "longenough1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t)
	_, signupToken := signup(t, srv, "a@b.com")

	resp, body := doJSON(t, srv, http.MethodPost, "/users/login", "", map[string]any{
		"email":    "a@b.com",
		"password": "longenough1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var parsed AuthResponse
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.NotEmpty(t, parsed.Token)
	assert.NotEqual(t, signupToken, parsed.Token)

	resp, _ = doJSON(t, srv, http.MethodPost, "/users/login", "", map[string]any{
		"email":    "a@b.com",
		"password": "wrongpass1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	signup(t, srv, "a@b.com")

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/users/me"},
		{http.MethodPost, "/users/logout"},
		{http.MethodPost, "/users/logoutAll"},
		{http.MethodGet, "/tasks"},
		{http.MethodPost, "/tasks"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			// No header at all.
			resp, _ := doJSON(t, srv, p.method, p.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			// Garbage token.
			resp, _ = doJSON(t, srv, p.method, p.path, "not-a-token", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestLogoutRevokesOnlyCurrentSession(t *testing.T) {
	srv := newTestServer(t)
	_, first := signup(t, srv, "a@b.com")

	resp, body := doJSON(t, srv, http.MethodPost, "/users/login", "", map[string]any{
		"email":    "a@b.com",
		"password": "longenough1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second AuthResponse
	require.NoError(t, json.Unmarshal(body, &second))

	resp, _ = doJSON(t, srv, http.MethodPost, "/users/logout", first, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodGet, "/users/me", first, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodGet, "/users/me", second.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	srv := newTestServer(t)
	_, first := signup(t, srv, "a@b.com")

	resp, body := doJSON(t, srv, http.MethodPost, "/users/login", "", map[string]any{
		"email":    "a@b.com",
		"password": "longenough1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second AuthResponse
	require.NoError(t, json.Unmarshal(body, &second))

	resp, _ = doJSON(t, srv, http.MethodPost, "/users/logoutAll", second.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, token := range []string{first, second.Token} {
		resp, _ = doJSON(t, srv, http.MethodGet, "/users/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestUpdateProfile(t *testing.T) {
	srv := newTestServer(t)
	_, token := signup(t, srv, "a@b.com")

	resp, body := doJSON(t, srv, http.MethodPatch, "/users/me", token, map[string]any{
		"name": "Renamed",
		"age":  44,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var user types.User
	require.NoError(t, json.Unmarshal(body, &user))
	assert.Equal(t, "Renamed", user.Name)
	assert.Equal(t, 44, user.Age)

	// Password untouched by the patch above.
	resp, _ = doJSON(t, srv, http.MethodPost, "/users/login", "", map[string]any{
		"email":    "a@b.com",
		"password": "longenough1",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateProfileRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t)
	_, token := signup(t, srv, "a@b.com")

	resp, body := doJSON(t, srv, http.MethodPatch, "/users/me", token, map[string]any{
		"id": "x",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var parsed ErrorResponse
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, "Invalid updates!", parsed.Error)
}

func TestUpdateProfilePasswordChange(t *testing.T) {
	srv := newTestServer(t)
	_, token := signup(t, srv, "a@b.com")

	resp, _ := doJSON(t, srv, http.MethodPatch, "/users/me", token, map[string]any{
		"password": "brandnewpw2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodPost, "/users/login", "", map[string]any{
		"email":    "a@b.com",
		"password": "longenough1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodPost, "/users/login", "", map[string]any{
		"email":    "a@b.com",
		"password": "brandnewpw2",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeleteAccountCascades(t *testing.T) {
	srv := newTestServer(t)
	userA, tokenA := signup(t, srv, "a@b.com")
	_, tokenB := signup(t, srv, "b@b.com")

	task := createTask(t, srv, tokenA, "will be orphaned", false)

	resp, body := doJSON(t, srv, http.MethodDelete, "/users/me", tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deleted types.User
	require.NoError(t, json.Unmarshal(body, &deleted))
	assert.Equal(t, userA.ID, deleted.ID)

	// The deleted account's session is gone.
	resp, _ = doJSON(t, srv, http.MethodGet, "/users/me", tokenA, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// And its tasks are unreachable by anyone.
	resp, _ = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/tasks/%d", task.ID), tokenB, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTaskForcesOwner(t *testing.T) {
	srv := newTestServer(t)
	user, token := signup(t, srv, "a@b.com")

	// An owner_id in the payload must be ignored.
	resp, body := doJSON(t, srv, http.MethodPost, "/tasks", token, map[string]any{
		"description": "x",
		"owner_id":    9999,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var task types.Task
	require.NoError(t, json.Unmarshal(body, &task))
	assert.Equal(t, user.ID, task.OwnerID)
	assert.Equal(t, "x", task.Description)
	assert.False(t, task.Completed)
}

func TestCreateTaskRequiresDescription(t *testing.T) {
	srv := newTestServer(t)
	_, token := signup(t, srv, "a@b.com")

	resp, _ := doJSON(t, srv, http.MethodPost, "/tasks", token, map[string]any{
		"description": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListTasks(t *testing.T) {
	srv := newTestServer(t)
	_, tokenA := signup(t, srv, "a@b.com")
	_, tokenB := signup(t, srv, "b@b.com")

	createTask(t, srv, tokenA, "first", false)
	createTask(t, srv, tokenA, "second", true)
	createTask(t, srv, tokenA, "third", true)
	createTask(t, srv, tokenB, "not mine", true)

	var tasks []types.Task

	// Listing is always scoped to the caller.
	resp, body := doJSON(t, srv, http.MethodGet, "/tasks", tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &tasks))
	require.Len(t, tasks, 3)

	// completed=true keeps only completed tasks.
	resp, body = doJSON(t, srv, http.MethodGet, "/tasks?completed=true", tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &tasks))
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.True(t, task.Completed)
	}

	// Descending creation order.
	resp, body = doJSON(t, srv, http.MethodGet, "/tasks?sortBy=createdAt:desc", tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &tasks))
	require.Len(t, tasks, 3)
	assert.Equal(t, "third", tasks[0].Description)
	assert.Equal(t, "first", tasks[2].Description)

	// Pagination.
	resp, body = doJSON(t, srv, http.MethodGet, "/tasks?limit=1&skip=1", tokenA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "second", tasks[0].Description)
}

func TestTaskOwnershipIsIndistinguishableFromAbsence(t *testing.T) {
	srv := newTestServer(t)
	_, tokenA := signup(t, srv, "a@b.com")
	_, tokenB := signup(t, srv, "b@b.com")

	task := createTask(t, srv, tokenA, "private", false)

	// B probing A's task must look exactly like probing a nonexistent id.
	for _, id := range []int{task.ID, task.ID + 1000} {
		resp, body := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/tasks/%d", id), tokenB, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var parsed ErrorResponse
		require.NoError(t, json.Unmarshal(body, &parsed))
		assert.Equal(t, "task not found", parsed.Error)

		resp, _ = doJSON(t, srv, http.MethodPatch, fmt.Sprintf("/tasks/%d", id), tokenB, map[string]any{"completed": true})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, _ = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/tasks/%d", id), tokenB, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}

	// A can still see it.
	resp, _ := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/tasks/%d", task.ID), tokenA, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateTask(t *testing.T) {
	srv := newTestServer(t)
	_, token := signup(t, srv, "a@b.com")
	task := createTask(t, srv, token, "before", false)

	resp, body := doJSON(t, srv, http.MethodPatch, fmt.Sprintf("/tasks/%d", task.ID), token, map[string]any{
		"description": "after",
		"completed":   true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var updated types.Task
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "after", updated.Description)
	assert.True(t, updated.Completed)
}

func TestUpdateTaskRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t)
	_, token := signup(t, srv, "a@b.com")
	task := createTask(t, srv, token, "x", false)

	resp, body := doJSON(t, srv, http.MethodPatch, fmt.Sprintf("/tasks/%d", task.ID), token, map[string]any{
		"owner_id": 2,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var parsed ErrorResponse
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, "Invalid updates!", parsed.Error)
}

func TestDeleteTaskReturnsIt(t *testing.T) {
	srv := newTestServer(t)
	_, token := signup(t, srv, "a@b.com")
	task := createTask(t, srv, token, "doomed", false)

	resp, body := doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/tasks/%d", task.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var deleted types.Task
	require.NoError(t, json.Unmarshal(body, &deleted))
	assert.Equal(t, task.ID, deleted.ID)

	resp, _ = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/tasks/%d", task.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func avatarUploadRequest(t *testing.T, srv *httptest.Server, token, filename string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("avatar", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/users/me/avatar", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: 10, G: 180, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAvatarLifecycle(t *testing.T) {
	srv := newTestServer(t)
	user, token := signup(t, srv, "a@b.com")

	// Upload.
	resp, err := srv.Client().Do(avatarUploadRequest(t, srv, token, "me.png", smallPNG(t)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Public fetch, no auth, normalized PNG.
	resp, err = srv.Client().Get(fmt.Sprintf("%s/users/%d/avatar", srv.URL, user.ID))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	decoded, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 250, decoded.Bounds().Dx())
	assert.Equal(t, 250, decoded.Bounds().Dy())

	// Delete, then the public fetch 404s.
	respDel, _ := doJSON(t, srv, http.MethodDelete, "/users/me/avatar", token, nil)
	require.Equal(t, http.StatusOK, respDel.StatusCode)

	resp, err = srv.Client().Get(fmt.Sprintf("%s/users/%d/avatar", srv.URL, user.ID))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAvatarRejectsBadUploads(t *testing.T) {
	srv := newTestServer(t)
	_, token := signup(t, srv, "a@b.com")

	// Wrong extension.
	resp, err := srv.Client().Do(avatarUploadRequest(t, srv, token, "notes.txt", smallPNG(t)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Valid extension but not decodable.
	resp, err = srv.Client().Do(avatarUploadRequest(t, srv, token, "fake.png", []byte("junk")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Over the byte limit.
	resp, err = srv.Client().Do(avatarUploadRequest(t, srv, token, "big.png", bytes.Repeat([]byte{0xff}, 1_000_001)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAvatarForUnknownUserIs404(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/users/999/avatar")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
