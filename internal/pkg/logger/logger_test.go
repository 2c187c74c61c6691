package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil uses default", config: nil},
		{name: "console", config: &Config{Level: "info", Format: "console", Output: "console"}},
		{
			name: "file",
			config: &Config{Level: "debug", Format: "json", Output: "file", File: FileConfig{
				Filename: filepath.Join(dir, "gw.log"), MaxSize: 1, MaxAge: 1, MaxBackups: 1,
			}},
		},
		{name: "bad level", config: &Config{Level: "loud", Format: "json", Output: "console"}, wantErr: true},
		{name: "bad format", config: &Config{Level: "info", Format: "xml", Output: "console"}, wantErr: true},
		{name: "bad output", config: &Config{Level: "info", Format: "json", Output: "syslog"}, wantErr: true},
		{name: "file without name", config: &Config{Level: "info", Format: "json", Output: "both"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l.Config())
		})
	}
}

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core), config: DefaultConfig()}, logs
}

func TestWithContextFields(t *testing.T) {
	l, logs := observed()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithOwnerID(ctx, "owner-1")
	ctx = WithSessionID(ctx, "sess-1")
	l.WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "owner-1", fields["owner_id"])
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestFromContextPrefersStoredLogger(t *testing.T) {
	l, logs := observed()
	ctx := ToContext(WithTraceID(context.Background(), "t-9"), l)

	FromContext(ctx).Warn("stored")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "t-9", logs.All()[0].ContextMap()["trace_id"])
}

func TestGinLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, logs := observed()

	r := gin.New()
	r.Use(GinLogger(l, "/metrics"), GinRecovery(l))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", func(c *gin.Context) { c.String(http.StatusOK, "") })
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(requestIDHeader, "fixed-id")
	r.ServeHTTP(w, req)
	assert.Equal(t, "fixed-id", w.Header().Get(requestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	reqLogs := logs.FilterMessage("HTTP request").All()
	require.Len(t, reqLogs, 2)
	assert.Equal(t, "fixed-id", reqLogs[0].ContextMap()["request_id"])
}
