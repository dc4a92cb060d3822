package httpservice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yourorg/go-sblite/pkg/logging"
	"github.com/yourorg/go-sblite/pkg/servicebusclient"
)

type fakeSource servicebusclient.ReceiverStatus

func (f fakeSource) Status() servicebusclient.ReceiverStatus {
	return servicebusclient.ReceiverStatus(f)
}

func newTestServer(t *testing.T, sources ...StatusSource) (*Server, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	srv, err := NewServer(ServerConfig{Addr: ":0", Logger: logging.NewZapLogger(zap.New(core))}, NewStatusHandler(sources...))
	require.NoError(t, err)
	return srv, logs
}

func get(srv *Server, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestNewServer_RequiresLoggerAndAddr(t *testing.T) {
	_, err := NewServer(ServerConfig{Addr: ":8080"})
	assert.Error(t, err)

	_, err = NewServer(ServerConfig{Logger: logging.NewNopLogger()})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv, logs := newTestServer(t)

	w := get(srv, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.Equal(t, 1, logs.FilterMessage("HTTP request").Len())
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _ := newTestServer(t)

	w := get(srv, "/health", requestIDHeader, "req-42")
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t,
		fakeSource{Entity: "q1", Mode: "peeklock", ConnectionState: "opened", LinkOpen: true, PumpRunning: true, PendingMessages: 2},
		fakeSource{Entity: "hub/ConsumerGroups/$Default/Partitions/0", Mode: "receiveanddelete", ConnectionState: "unopened"},
	)

	w := get(srv, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Receivers []servicebusclient.ReceiverStatus `json:"receivers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Receivers, 2)
	assert.Equal(t, 2, body.Receivers[0].PendingMessages)
	assert.True(t, body.Receivers[0].PumpRunning)
	assert.Equal(t, "unopened", body.Receivers[1].ConnectionState)
}

func TestReady(t *testing.T) {
	srv, _ := newTestServer(t, fakeSource{Entity: "q1", ConnectionState: "opened"})
	assert.Equal(t, http.StatusOK, get(srv, "/ready").Code)

	srv, logs := newTestServer(t,
		fakeSource{Entity: "q1", ConnectionState: "opened"},
		fakeSource{Entity: "q2", ConnectionState: "failed"},
	)
	w := get(srv, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable","entity":"q2","state":"failed"}`, w.Body.String())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, logs := newTestServer(t)
	srv.Router().GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := get(srv, "/boom")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}
