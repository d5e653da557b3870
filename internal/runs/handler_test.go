package runs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screenbug/backend/internal/pipeline"
)

func TestHandlerGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tr, _ := newTestTracker(t)
	h := NewHandler(tr, nil)
	router := gin.New()
	router.GET("/runs/:id", h.Get)

	runID := uuid.New()
	tr.Observe(context.Background(), pipeline.Event{RunID: runID, State: pipeline.StateSuccess})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data pipeline.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, pipeline.StateSuccess, body.Data.State)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
