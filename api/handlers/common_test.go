package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/checkpoint"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/engine"
)

func TestWriteEngineErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid argument", engine.ErrInvalidArgument, http.StatusBadRequest, CodeInvalidRequest},
		{"not found", checkpoint.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"lease held", engine.ErrLeaseHeld, http.StatusConflict, CodeLocked},
		{"canceled", engine.ErrThreadCanceled, http.StatusConflict, CodeCanceled},
		{"no pending interrupt", engine.ErrNoPendingInterrupt, http.StatusConflict, CodeConflict},
		{"version conflict", checkpoint.ErrVersionConflict, http.StatusConflict, CodeConflict},
		{"invalid input", checkpoint.ErrInvalidInput, http.StatusBadRequest, CodeInvalidRequest},
		{"wrapped", fmt.Errorf("outer: %w", checkpoint.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteEngineError(rec, tt.err, nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestWriteSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"k": "v"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK) // second call must not overwrite

	assert.Equal(t, http.StatusTeapot, rw.StatusCode)
	assert.True(t, rw.Written)
}

func TestResponseWriterDefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.True(t, rw.Written)
}
