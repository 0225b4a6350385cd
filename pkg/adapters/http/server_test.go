package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/railhub/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Status(ctx context.Context) domain.NodeStatus {
	return m.Called().Get(0).(domain.NodeStatus)
}

func (m *MockService) SelectDestination(ctx context.Context, dest string) error {
	return m.Called(dest).Error(0)
}

func (m *MockService) CancelDeparture(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockService) Brake(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockService) SetSwitch(ctx context.Context, index int, state bool) error {
	return m.Called(index, state).Error(0)
}

func (m *MockService) DispatchFromBay(ctx context.Context, index int) error {
	return m.Called(index).Error(0)
}

func (m *MockService) CommandStation(ctx context.Context, id string, action domain.Action, args any) error {
	return m.Called(id, action, args).Error(0)
}

func (m *MockService) Reconfigure(ctx context.Context, role domain.Role) error {
	return m.Called(role).Error(0)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(t, NewHandler(&MockService{}), "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestGetStatus(t *testing.T) {
	svc := &MockService{}
	svc.On("Status").Return(domain.NodeStatus{
		Identity: domain.StationIdentity{ID: "hub-1", Role: domain.RoleHub},
		HasTrain: true,
		Lock:     &domain.SwitchLock{State: domain.LockLocked, Holder: "remote-1"},
	})

	w := do(t, NewHandler(svc), "GET", "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got domain.NodeStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "hub-1", got.Identity.ID)
	assert.True(t, got.HasTrain)
	require.NotNil(t, got.Lock)
	assert.Equal(t, "remote-1", got.Lock.Holder)
}

func TestSelectDestination(t *testing.T) {
	svc := &MockService{}
	svc.On("SelectDestination", "remote-1").Return(nil)
	svc.On("Status").Return(domain.NodeStatus{Intent: domain.DepartureIntent{DestinationID: "remote-1", Phase: domain.PhaseCountdown}})

	w := do(t, NewHandler(svc), "POST", "/departure", `{"destination_id":"remote-1"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "COUNTDOWN")
	svc.AssertExpectations(t)
}

func TestSelectDestination_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"malformed body", `{`, nil, http.StatusBadRequest},
		{"missing destination", `{}`, nil, http.StatusBadRequest},
		{"unknown station", `{"destination_id":"x"}`, fmt.Errorf("destination %q: %w", "x", domain.ErrUnknownStation), http.StatusNotFound},
		{"intent active", `{"destination_id":"x"}`, domain.ErrIntentActive, http.StatusConflict},
		{"no hub", `{"destination_id":"x"}`, domain.ErrHubUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockService{}
			svc.On("SelectDestination", mock.Anything).Return(tt.err)

			w := do(t, NewHandler(svc), "POST", "/departure", tt.body)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestCancelDeparture(t *testing.T) {
	svc := &MockService{}
	svc.On("CancelDeparture").Return(nil).Once()
	svc.On("CancelDeparture").Return(domain.ErrNoIntent).Once()
	h := NewHandler(svc)

	assert.Equal(t, http.StatusNoContent, do(t, h, "DELETE", "/departure", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, "DELETE", "/departure", "").Code)
}

func TestBrakeAndSwitches(t *testing.T) {
	svc := &MockService{}
	svc.On("Brake").Return(nil)
	svc.On("SetSwitch", 2, true).Return(nil)
	svc.On("SetSwitch", 9, false).Return(domain.ErrUnknownSwitch)
	h := NewHandler(svc)

	assert.Equal(t, http.StatusNoContent, do(t, h, "POST", "/brake", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, "POST", "/switches/2", `{"state":true}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "POST", "/switches/9", `{"state":false}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", "/switches/left", `{"state":false}`).Code)
	svc.AssertExpectations(t)
}

func TestDispatchFromBay_RunsInBackground(t *testing.T) {
	svc := &MockService{}
	done := make(chan struct{})
	svc.On("DispatchFromBay", 1).Return(nil).Run(func(mock.Arguments) { close(done) })

	w := do(t, NewHandler(svc), "POST", "/bays/1/dispatch", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bay dispatch never ran")
	}
}

func TestCommandStation(t *testing.T) {
	svc := &MockService{}
	svc.On("CommandStation", "remote-1", domain.ActionSetSwitch, domain.SetSwitchArgs{Index: 3, State: true}).Return(nil)
	svc.On("CommandStation", "remote-1", domain.ActionBrake, nil).Return(domain.ErrNotHub)
	svc.On("CommandStation", "remote-1", domain.ActionRequestTrain, nil).Return(domain.ErrUnsupportedAction)
	h := NewHandler(svc)

	assert.Equal(t, http.StatusAccepted, do(t, h, "POST", "/stations/remote-1/commands", `{"action":"set_switch","index":3,"state":true}`).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, "POST", "/stations/remote-1/commands", `{"action":"brake"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", "/stations/remote-1/commands", `{"action":"request_train"}`).Code)
}

func TestSetRole(t *testing.T) {
	svc := &MockService{}
	svc.On("Reconfigure", domain.RoleRemote).Return(nil)
	h := NewHandler(svc)

	w := do(t, h, "POST", "/role", `{"role":"remote"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "REMOTE")

	assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", "/role", `{"role":"depot"}`).Code)
	svc.AssertNumberOfCalls(t, "Reconfigure", 1)
}

func TestMetricsMount(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("railhub_lock_state 0\n"))
	})

	w := do(t, NewHandler(&MockService{}, WithMetrics(metrics)), "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "railhub_lock_state")

	assert.Equal(t, http.StatusNotFound, do(t, NewHandler(&MockService{}), "GET", "/metrics", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	h := NewHandler(&MockService{}, WithAllowedOrigins("http://display.local"))

	req := httptest.NewRequest("OPTIONS", "/departure", nil)
	req.Header.Set("Origin", "http://display.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "http://display.local", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubscribeEvents(t *testing.T) {
	svc := &MockService{}
	svc.On("Status").Return(domain.NodeStatus{Identity: domain.StationIdentity{ID: "hub-1"}})
	h := NewHandler(svc, WithStreamInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest("GET", "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, "event: ping")
	assert.Equal(t, 1, strings.Count(body, "event: status"), "unchanged status is sent once")
	assert.Contains(t, body, `"id":"hub-1"`)
}
