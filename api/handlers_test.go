package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"dispatchd/dispatch"
	"dispatchd/domain"
)

const goodAuthHeader = "Bearer good"

type mockAuth struct{}

func (mockAuth) ContractorIDFromAuthHeader(h string) (string, error) {
	if h == goodAuthHeader {
		return "c1", nil
	}
	return "", errors.New("bad token")
}

type mockDispatcher struct {
	lastOp     string
	lastTaskID string
	lastStatus string
	lastNotes  string
	lastPhotos []string
	lastQuery  *domain.GeoQuery

	result      dispatch.Result
	tasksResult dispatch.TasksResult
}

func (m *mockDispatcher) Claim(_ context.Context, taskID, contractorID string) dispatch.Result {
	m.lastOp, m.lastTaskID = "claim", taskID
	return m.result
}

func (m *mockDispatcher) UpdateStatus(_ context.Context, taskID, contractorID, newStatus string) dispatch.Result {
	m.lastOp, m.lastTaskID, m.lastStatus = "status", taskID, newStatus
	return m.result
}

func (m *mockDispatcher) Complete(_ context.Context, taskID, contractorID, notes string, photos []string) dispatch.Result {
	m.lastOp, m.lastTaskID, m.lastNotes, m.lastPhotos = "complete", taskID, notes, photos
	return m.result
}

func (m *mockDispatcher) GetAvailableTasks(_ context.Context, contractorID string, q *domain.GeoQuery) dispatch.TasksResult {
	m.lastOp, m.lastQuery = "available", q
	return m.tasksResult
}

func (m *mockDispatcher) GetContractorTasks(_ context.Context, contractorID string) dispatch.TasksResult {
	m.lastOp = "mine"
	return m.tasksResult
}

func (m *mockDispatcher) GetTaskByID(_ context.Context, taskID string) dispatch.Result {
	m.lastOp, m.lastTaskID = "byid", taskID
	return m.result
}

type mockNotifStore struct {
	notifs []domain.Notification
	err    error
}

func (m *mockNotifStore) ListNotifications(context.Context, string) ([]domain.Notification, error) {
	return m.notifs, m.err
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(context.Context) error { return m.err }

func newTestServer(t *testing.T, engine *mockDispatcher, notifs *mockNotifStore, pinger *mockPinger) *echo.Echo {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)
	e := echo.New()
	// The realtime route needs a handler value but these tests never dial it.
	rt := &RealtimeHandler{}
	Register(e, rt, engine, notifs, pinger, mockAuth{}, logger)
	return e
}

func doJSON(e *echo.Echo, method, path, auth, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestClaimRoute(t *testing.T) {
	engine := &mockDispatcher{result: dispatch.Result{Success: true, Task: &domain.Task{ID: "t1"}}}
	e := newTestServer(t, engine, &mockNotifStore{}, &mockPinger{})

	rec := doJSON(e, http.MethodPost, "/api/tasks/t1/claim", goodAuthHeader, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if engine.lastOp != "claim" || engine.lastTaskID != "t1" {
		t.Fatalf("unexpected dispatch: %s %s", engine.lastOp, engine.lastTaskID)
	}
	var res dispatch.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.Task.ID != "t1" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestBusinessRejectionIsStill200(t *testing.T) {
	engine := &mockDispatcher{result: dispatch.Result{Message: "Task is not available for claiming"}}
	e := newTestServer(t, engine, &mockNotifStore{}, &mockPinger{})

	rec := doJSON(e, http.MethodPost, "/api/tasks/t1/claim", goodAuthHeader, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a business rejection, got %d", rec.Code)
	}
	var res dispatch.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Success || res.Message == "" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	engine := &mockDispatcher{}
	e := newTestServer(t, engine, &mockNotifStore{}, &mockPinger{})

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/tasks/t1/claim"},
		{http.MethodPost, "/api/tasks/t1/status"},
		{http.MethodPost, "/api/tasks/t1/complete"},
		{http.MethodGet, "/api/tasks/available"},
		{http.MethodGet, "/api/tasks/mine"},
		{http.MethodGet, "/api/tasks/t1"},
		{http.MethodGet, "/api/notifications"},
	}
	for _, r := range routes {
		rec := doJSON(e, r.method, r.path, "Bearer wrong", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", r.method, r.path, rec.Code)
		}
	}
	if engine.lastOp != "" {
		t.Fatalf("engine must not be reached unauthenticated, saw %q", engine.lastOp)
	}
}

func TestUpdateStatusRoutePassesBody(t *testing.T) {
	engine := &mockDispatcher{result: dispatch.Result{Success: true}}
	e := newTestServer(t, engine, &mockNotifStore{}, &mockPinger{})

	rec := doJSON(e, http.MethodPost, "/api/tasks/t1/status", goodAuthHeader, `{"status":"in_progress"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if engine.lastStatus != "in_progress" {
		t.Fatalf("expected status to pass through, got %q", engine.lastStatus)
	}
}

func TestCompleteRoutePassesBody(t *testing.T) {
	engine := &mockDispatcher{result: dispatch.Result{Success: true}}
	e := newTestServer(t, engine, &mockNotifStore{}, &mockPinger{})

	rec := doJSON(e, http.MethodPost, "/api/tasks/t1/complete", goodAuthHeader,
		`{"notes":"left at the door","photos":["https://img/1.jpg"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if engine.lastNotes != "left at the door" || len(engine.lastPhotos) != 1 {
		t.Fatalf("expected body to pass through, got %q %v", engine.lastNotes, engine.lastPhotos)
	}
}

func TestAvailableTasksRouteParsesGeoQuery(t *testing.T) {
	engine := &mockDispatcher{tasksResult: dispatch.TasksResult{Success: true}}
	e := newTestServer(t, engine, &mockNotifStore{}, &mockPinger{})

	rec := doJSON(e, http.MethodGet, "/api/tasks/available?lat=40.7&lng=-74.0&radius=25", goodAuthHeader, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	q := engine.lastQuery
	if q == nil || q.Lat != 40.7 || q.Lng != -74.0 || q.RadiusKm != 25 {
		t.Fatalf("unexpected geo query: %#v", q)
	}

	// Without coordinates the query is nil: list everything.
	rec = doJSON(e, http.MethodGet, "/api/tasks/available", goodAuthHeader, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if engine.lastQuery != nil {
		t.Fatalf("expected nil query, got %#v", engine.lastQuery)
	}

	rec = doJSON(e, http.MethodGet, "/api/tasks/available?lat=91&lng=0", goodAuthHeader, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range coordinates, got %d", rec.Code)
	}
}

func TestListNotificationsRoute(t *testing.T) {
	notifs := &mockNotifStore{notifs: []domain.Notification{{ID: "n1", Type: "task:assigned"}}}
	e := newTestServer(t, &mockDispatcher{}, notifs, &mockPinger{})

	rec := doJSON(e, http.MethodGet, "/api/notifications", goodAuthHeader, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Notifications) != 1 || body.Notifications[0].ID != "n1" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	notifs.err = errors.New("store down")
	rec = doJSON(e, http.MethodGet, "/api/notifications", goodAuthHeader, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on store failure, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	pinger := &mockPinger{}
	e := newTestServer(t, &mockDispatcher{}, &mockNotifStore{}, pinger)

	rec := doJSON(e, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	pinger.err = errors.New("redis down")
	rec = doJSON(e, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
