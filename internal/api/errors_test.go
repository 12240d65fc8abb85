package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteBadRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	writeBadRequest(rec, "missing field")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, "Bad Request", resp.Error)
	assert.Equal(t, "missing field", resp.Details)
}

func TestWriteNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	writeNotFound(rec, "blockchain not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, "Not Found", resp.Error)
}

func TestWriteConflict(t *testing.T) {
	rec := httptest.NewRecorder()
	writeConflict(rec, "slug already exists")

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, "Conflict", resp.Error)
}

func TestWriteInternalError_HidesUnderlyingMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeInternalError(rec, assertError("db exploded"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeErrorResponse(t, rec)
	assert.Equal(t, "Internal Server Error", resp.Error)
	assert.NotContains(t, resp.Details, "db exploded")
}

func TestWriteServiceUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceUnavailable(rec, "database unreachable")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type stringError string

func (e stringError) Error() string { return string(e) }

func assertError(msg string) error { return stringError(msg) }
