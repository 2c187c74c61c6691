package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, fn func(c *gin.Context)) (int, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	fn(c)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHandleErrorMapsKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"not found", apperrors.New(apperrors.ErrFileNotFound, "file f1"), http.StatusNotFound, "not_found"},
		{"not owned", apperrors.New(apperrors.ErrFileNotOwned), http.StatusForbidden, "unauthorized"},
		{"invalid state", apperrors.New(apperrors.ErrMissingChunks), http.StatusConflict, "invalid_state"},
		{"no nodes", apperrors.New(apperrors.ErrNoAvailableNodes), http.StatusServiceUnavailable, "no_available_nodes"},
		{"validation", apperrors.New(apperrors.ErrChecksumMismatch), http.StatusBadRequest, "validation_failure"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := render(t, func(c *gin.Context) { HandleError(c, tt.err) })
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.NotZero(t, resp.Code)
		})
	}
}

func TestHandleErrorHidesWrappedCause(t *testing.T) {
	err := apperrors.Wrap(errors.New("dial tcp 10.0.0.7:9000: secret-bucket/key"), apperrors.ErrEncryptionFailure)
	status, resp := render(t, func(c *gin.Context) { HandleError(c, err) })
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Encryption failure", resp.Message)

	backend := apperrors.NewBackendError(errors.New("connection refused"), "OBJECT_STORE_A", "n1", "store")
	_, resp = render(t, func(c *gin.Context) { HandleError(c, backend) })
	assert.Equal(t, "Storage backend failure: OBJECT_STORE_A store on node n1", resp.Message)
}

func TestPaged(t *testing.T) {
	status, resp := render(t, func(c *gin.Context) { Paged(c, []string{"a"}, 3, 1, 1) })
	assert.Equal(t, http.StatusOK, status)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(3), data["total"])
}
