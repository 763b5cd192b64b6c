package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskhub/internal/model"
	"taskhub/internal/store"

	"github.com/gin-gonic/gin"
)

type mockAccountStore struct {
	byID        map[uint]*model.Account
	updates     map[string]interface{}
	updateErr   error
	listResults []model.Account
}

func (m *mockAccountStore) AccountByID(_ context.Context, id uint) (*model.Account, error) {
	if a, ok := m.byID[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockAccountStore) ListAccounts(_ context.Context, offset, limit int) ([]model.Account, error) {
	return m.listResults, nil
}

func (m *mockAccountStore) UpdateAccount(_ context.Context, id uint, updates map[string]interface{}) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.byID[id]; !ok {
		return store.ErrNotFound
	}
	m.updates = updates
	if email, ok := updates["email"].(string); ok {
		m.byID[id].Email = email
	}
	return nil
}

type mockTaskStore struct {
	byID      map[uint]*model.Task
	nextID    uint
	created   []*model.Task
	updates   map[string]interface{}
	deletedID uint
	createErr error
	gotOffset int
	gotLimit  int
}

func (m *mockTaskStore) CreateTask(_ context.Context, task *model.Task) error {
	if m.createErr != nil {
		err := m.createErr
		m.createErr = nil
		return err
	}
	m.nextID++
	task.ID = m.nextID
	copied := *task
	if m.byID == nil {
		m.byID = map[uint]*model.Task{}
	}
	m.byID[task.ID] = &copied
	m.created = append(m.created, &copied)
	return nil
}

func (m *mockTaskStore) TaskByID(_ context.Context, id uint) (*model.Task, error) {
	if t, ok := m.byID[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockTaskStore) ListTasksByOwner(_ context.Context, ownerID uint, offset, limit int) ([]model.Task, error) {
	m.gotOffset = offset
	m.gotLimit = limit
	var out []model.Task
	for _, t := range m.byID {
		if t.OwnerID == ownerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockTaskStore) UpdateTask(_ context.Context, id uint, updates map[string]interface{}) error {
	t, ok := m.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	m.updates = updates
	if title, ok := updates["title"].(string); ok {
		t.Title = title
	}
	if desc, ok := updates["description"].(string); ok {
		t.Description = desc
	}
	if done, ok := updates["completed"].(bool); ok {
		t.Completed = done
	}
	return nil
}

func (m *mockTaskStore) DeleteTask(_ context.Context, id uint) error {
	if _, ok := m.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.byID, id)
	m.deletedID = id
	return nil
}

type mockLifecycle struct {
	deletedID uint
	err       error
}

func (m *mockLifecycle) DeleteAccount(_ context.Context, id uint) error {
	if m.err != nil {
		return m.err
	}
	m.deletedID = id
	return nil
}

type mockDeduper struct {
	dup        bool
	checked    []string
	deletedFPs []string
}

func (m *mockDeduper) IsDuplicate(_ context.Context, fingerprint string) (bool, error) {
	m.checked = append(m.checked, fingerprint)
	return m.dup, nil
}

func (m *mockDeduper) Delete(_ context.Context, fingerprint string) error {
	m.deletedFPs = append(m.deletedFPs, fingerprint)
	return nil
}

// windowDeduper 模拟真实的 SetNX 窗口：首次出现记录指纹，窗口内再现视为重复。
type windowDeduper struct {
	seen map[string]bool
}

func (w *windowDeduper) IsDuplicate(_ context.Context, fingerprint string) (bool, error) {
	if w.seen == nil {
		w.seen = map[string]bool{}
	}
	if w.seen[fingerprint] {
		return true, nil
	}
	w.seen[fingerprint] = true
	return false, nil
}

func (w *windowDeduper) Delete(_ context.Context, fingerprint string) error {
	delete(w.seen, fingerprint)
	return nil
}

// newTestServer 组装带模拟依赖的服务器，并以给定账户身份注册受保护路由。
func newTestServer(accounts *mockAccountStore, tasks *mockTaskStore, lifecycle *mockLifecycle, deduper Deduper, caller *model.Account) *gin.Engine {
	gin.SetMode(gin.TestMode)
	s := &Server{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		accounts:  accounts,
		tasks:     tasks,
		lifecycle: lifecycle,
		deduper:   deduper,
	}

	r := gin.New()
	authed := r.Group("/")
	authed.Use(func(c *gin.Context) {
		c.Set("account", caller)
		c.Next()
	})
	authed.GET("/accounts", s.handleListAccounts)
	authed.GET("/accounts/:id", s.handleGetAccount)
	authed.PUT("/accounts/:id", s.handleUpdateAccount)
	authed.DELETE("/accounts/:id", s.handleDeleteAccount)
	authed.POST("/tasks", s.handleCreateTask)
	authed.GET("/tasks", s.handleListTasks)
	authed.GET("/tasks/:id", s.handleGetTask)
	authed.PUT("/tasks/:id", s.handleUpdateTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func testCaller() *model.Account {
	return &model.Account{ID: 1, Username: "alice", Email: "a@x.com"}
}

func TestCreateTask(t *testing.T) {
	tasks := &mockTaskStore{}
	deduper := &mockDeduper{}
	r := newTestServer(&mockAccountStore{}, tasks, &mockLifecycle{}, deduper, testCaller())

	w := doJSON(t, r, http.MethodPost, "/tasks", gin.H{"title": "  buy milk  ", "description": "2L"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OwnerID != 1 {
		t.Fatalf("expected caller as owner, got %d", resp.OwnerID)
	}
	if resp.Title != "buy milk" {
		t.Fatalf("expected trimmed title, got %q", resp.Title)
	}
	if len(deduper.checked) != 1 {
		t.Fatalf("expected dedup check, got %d", len(deduper.checked))
	}
}

func TestCreateTask_DuplicateWindow(t *testing.T) {
	tasks := &mockTaskStore{}
	deduper := &mockDeduper{dup: true}
	r := newTestServer(&mockAccountStore{}, tasks, &mockLifecycle{}, deduper, testCaller())

	w := doJSON(t, r, http.MethodPost, "/tasks", gin.H{"title": "buy milk"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "skipped_duplicate") {
		t.Fatalf("expected skipped_duplicate, got %s", w.Body.String())
	}
	if len(tasks.created) != 0 {
		t.Fatalf("duplicate submission should not hit the store")
	}
}

func TestCreateTask_RetryAfterStoreFailure(t *testing.T) {
	tasks := &mockTaskStore{createErr: errors.New("db down")}
	deduper := &windowDeduper{}
	r := newTestServer(&mockAccountStore{}, tasks, &mockLifecycle{}, deduper, testCaller())

	body := gin.H{"title": "buy milk", "description": "2L"}

	// 第一次提交：存储失败，指纹必须被清除
	w := doJSON(t, r, http.MethodPost, "/tasks", body)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on store failure, got %d: %s", w.Code, w.Body.String())
	}
	if len(tasks.created) != 0 {
		t.Fatalf("failed create must not persist a task")
	}

	// 存储恢复后在窗口内重试相同内容：应当真正创建，而不是被当作重复吞掉
	w = doJSON(t, r, http.MethodPost, "/tasks", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 on retry, got %d: %s", w.Code, w.Body.String())
	}
	if len(tasks.created) != 1 {
		t.Fatalf("expected retry to create the task, got %d", len(tasks.created))
	}
}

func TestCreateTask_BlankTitle(t *testing.T) {
	r := newTestServer(&mockAccountStore{}, &mockTaskStore{}, &mockLifecycle{}, &mockDeduper{}, testCaller())

	w := doJSON(t, r, http.MethodPost, "/tasks", gin.H{"title": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetTask_OwnerOnly(t *testing.T) {
	tasks := &mockTaskStore{byID: map[uint]*model.Task{
		10: {ID: 10, OwnerID: 1, Title: "mine"},
		11: {ID: 11, OwnerID: 2, Title: "theirs"},
	}}
	r := newTestServer(&mockAccountStore{}, tasks, &mockLifecycle{}, &mockDeduper{}, testCaller())

	w := doJSON(t, r, http.MethodGet, "/tasks/10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for own task, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/tasks/11", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another owner's task, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/tasks/99", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing task, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/tasks/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestUpdateTask(t *testing.T) {
	tasks := &mockTaskStore{byID: map[uint]*model.Task{
		10: {ID: 10, OwnerID: 1, Title: "mine"},
		11: {ID: 11, OwnerID: 2, Title: "theirs"},
	}}
	r := newTestServer(&mockAccountStore{}, tasks, &mockLifecycle{}, &mockDeduper{}, testCaller())

	w := doJSON(t, r, http.MethodPut, "/tasks/10", gin.H{"completed": true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Completed {
		t.Fatalf("expected completed task")
	}

	// 他人任务不可修改，内容保持不变
	w = doJSON(t, r, http.MethodPut, "/tasks/11", gin.H{"title": "hijacked"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if tasks.byID[11].Title != "theirs" {
		t.Fatalf("foreign task must not be modified")
	}

	w = doJSON(t, r, http.MethodPut, "/tasks/10", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", w.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	tasks := &mockTaskStore{byID: map[uint]*model.Task{
		10: {ID: 10, OwnerID: 1, Title: "mine", Description: "d"},
		11: {ID: 11, OwnerID: 2, Title: "theirs"},
	}}
	deduper := &mockDeduper{}
	r := newTestServer(&mockAccountStore{}, tasks, &mockLifecycle{}, deduper, testCaller())

	w := doJSON(t, r, http.MethodDelete, "/tasks/10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if tasks.deletedID != 10 {
		t.Fatalf("expected store delete for id 10, got %d", tasks.deletedID)
	}
	if len(deduper.deletedFPs) != 1 {
		t.Fatalf("expected dedup fingerprint cleanup")
	}

	w = doJSON(t, r, http.MethodDelete, "/tasks/11", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if _, ok := tasks.byID[11]; !ok {
		t.Fatalf("foreign task must not be deleted")
	}
}

func TestListTasks_ScopedToCaller(t *testing.T) {
	tasks := &mockTaskStore{byID: map[uint]*model.Task{
		10: {ID: 10, OwnerID: 1, Title: "mine"},
		11: {ID: 11, OwnerID: 2, Title: "theirs"},
	}}
	r := newTestServer(&mockAccountStore{}, tasks, &mockLifecycle{}, &mockDeduper{}, testCaller())

	w := doJSON(t, r, http.MethodGet, "/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp []taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].ID != 10 {
		t.Fatalf("expected only caller's task, got %+v", resp)
	}
}

func TestListTasks_PaginationClamping(t *testing.T) {
	cases := []struct {
		query      string
		wantOffset int
		wantLimit  int
	}{
		{"", 0, 20},
		{"?skip=5&limit=50", 5, 50},
		{"?limit=1000", 0, 100},
		{"?skip=-3&limit=0", 0, 20},
	}
	for _, tc := range cases {
		tasks := &mockTaskStore{}
		r := newTestServer(&mockAccountStore{}, tasks, &mockLifecycle{}, &mockDeduper{}, testCaller())

		w := doJSON(t, r, http.MethodGet, "/tasks"+tc.query, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", tc.query, w.Code)
		}
		if tasks.gotOffset != tc.wantOffset || tasks.gotLimit != tc.wantLimit {
			t.Fatalf("%q: expected offset=%d limit=%d, got offset=%d limit=%d",
				tc.query, tc.wantOffset, tc.wantLimit, tasks.gotOffset, tasks.gotLimit)
		}
	}
}

func TestGetAccount(t *testing.T) {
	accounts := &mockAccountStore{byID: map[uint]*model.Account{
		1: {ID: 1, Username: "alice", Email: "a@x.com", PasswordHash: "secret-hash"},
	}}
	r := newTestServer(accounts, &mockTaskStore{}, &mockLifecycle{}, &mockDeduper{}, testCaller())

	w := doJSON(t, r, http.MethodGet, "/accounts/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret-hash") || strings.Contains(w.Body.String(), "password") {
		t.Fatalf("password hash leaked in response: %s", w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/accounts/99", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/accounts/0", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for id 0, got %d", w.Code)
	}
}

func TestUpdateAccount(t *testing.T) {
	accounts := &mockAccountStore{byID: map[uint]*model.Account{
		1: {ID: 1, Username: "alice", Email: "a@x.com"},
		2: {ID: 2, Username: "bob", Email: "b@x.com"},
	}}
	r := newTestServer(accounts, &mockTaskStore{}, &mockLifecycle{}, &mockDeduper{}, testCaller())

	w := doJSON(t, r, http.MethodPut, "/accounts/1", gin.H{"email": "New@X.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := accounts.updates["email"]; got != "new@x.com" {
		t.Fatalf("expected normalized email, got %v", got)
	}

	// 只能修改自己
	w = doJSON(t, r, http.MethodPut, "/accounts/2", gin.H{"email": "x@x.com"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPut, "/accounts/1", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", w.Code)
	}
}

func TestUpdateAccount_PasswordRehash(t *testing.T) {
	accounts := &mockAccountStore{byID: map[uint]*model.Account{
		1: {ID: 1, Username: "alice", Email: "a@x.com"},
	}}
	r := newTestServer(accounts, &mockTaskStore{}, &mockLifecycle{}, &mockDeduper{}, testCaller())

	w := doJSON(t, r, http.MethodPut, "/accounts/1", gin.H{"password": "newsecret"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	hash, ok := accounts.updates["password_hash"].(string)
	if !ok || hash == "" {
		t.Fatalf("expected password_hash update, got %v", accounts.updates)
	}
	if hash == "newsecret" {
		t.Fatalf("password must be stored hashed")
	}
}

func TestUpdateAccount_DuplicateEmail(t *testing.T) {
	accounts := &mockAccountStore{
		byID:      map[uint]*model.Account{1: {ID: 1, Username: "alice", Email: "a@x.com"}},
		updateErr: store.ErrDuplicate,
	}
	r := newTestServer(accounts, &mockTaskStore{}, &mockLifecycle{}, &mockDeduper{}, testCaller())

	w := doJSON(t, r, http.MethodPut, "/accounts/1", gin.H{"email": "b@x.com"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeleteAccount(t *testing.T) {
	lifecycle := &mockLifecycle{}
	r := newTestServer(&mockAccountStore{}, &mockTaskStore{}, lifecycle, &mockDeduper{}, testCaller())

	// 只能注销自己
	w := doJSON(t, r, http.MethodDelete, "/accounts/2", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if lifecycle.deletedID != 0 {
		t.Fatalf("lifecycle must not run for foreign account")
	}

	w = doJSON(t, r, http.MethodDelete, "/accounts/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if lifecycle.deletedID != 1 {
		t.Fatalf("expected cascade delete for id 1, got %d", lifecycle.deletedID)
	}
	if !strings.Contains(w.Body.String(), "true") {
		t.Fatalf("expected deleted flag, got %s", w.Body.String())
	}
}

func TestDeleteAccount_NotFound(t *testing.T) {
	lifecycle := &mockLifecycle{err: store.ErrNotFound}
	r := newTestServer(&mockAccountStore{}, &mockTaskStore{}, lifecycle, &mockDeduper{}, testCaller())

	w := doJSON(t, r, http.MethodDelete, "/accounts/1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListAccounts(t *testing.T) {
	accounts := &mockAccountStore{listResults: []model.Account{
		{ID: 1, Username: "alice", Email: "a@x.com", PasswordHash: "h1"},
		{ID: 2, Username: "bob", Email: "b@x.com", PasswordHash: "h2"},
	}}
	r := newTestServer(accounts, &mockTaskStore{}, &mockLifecycle{}, &mockDeduper{}, testCaller())

	w := doJSON(t, r, http.MethodGet, "/accounts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp []accountResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(resp))
	}
	if strings.Contains(w.Body.String(), "h1") {
		t.Fatalf("password hash leaked in listing")
	}
}
