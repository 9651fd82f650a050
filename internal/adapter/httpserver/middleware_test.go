package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajith4Tech/rforum/internal/domain"
	"github.com/ajith4Tech/rforum/internal/platform/correlation"
	apperrors "github.com/ajith4Tech/rforum/internal/platform/errors"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestMiddlewareWithStructuredError(t *testing.T) {
	c, rec := newContext()

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return apperrors.ValidationError("invalid input")
	})

	err := handler(c)
	require.NoError(t, err) // ErrorHandlingMiddleware handles the error, doesn't return it

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestMiddlewareWithStandardError(t *testing.T) {
	c, rec := newContext()

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return errors.New("standard error")
	})

	require.NoError(t, handler(c))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "internal server error", resp.Error)
	assert.Equal(t, apperrors.TypeInternal, resp.Type)
}

func TestMiddlewareWithDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   apperrors.ErrorType
	}{
		{"invalid channel", fmt.Errorf("presence: %w", domain.ErrInvalidChannel), http.StatusBadRequest, apperrors.TypeValidation},
		{"unknown channel", domain.ErrChannelNotFound, http.StatusNotFound, apperrors.TypeNotFound},
		{"channel full", domain.ErrChannelFull, http.StatusServiceUnavailable, apperrors.TypeUnavailable},
		{"hub closed", domain.ErrHubClosed, http.StatusServiceUnavailable, apperrors.TypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext()
			handler := ErrorHandlingMiddleware()(func(c echo.Context) error { return tt.err })

			require.NoError(t, handler(c))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantType, decodeError(t, rec).Type)
		})
	}
}

func TestMiddlewarePassesHTTPErrorThrough(t *testing.T) {
	c, _ := newContext()
	httpErr := echo.NewHTTPError(http.StatusMethodNotAllowed)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error { return httpErr })

	assert.Equal(t, httpErr, handler(c))
}

func TestMiddlewareWithNoError(t *testing.T) {
	c, rec := newContext()

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	require.NoError(t, handler(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestMiddlewareWithContext(t *testing.T) {
	c, rec := newContext()

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return apperrors.UnavailableError("connection limit reached").
			WithContext("reason", "per_ip_limit")
	})

	require.NoError(t, handler(c))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "connection limit reached", resp.Error)
	assert.Equal(t, apperrors.TypeUnavailable, resp.Type)
	assert.Equal(t, "per_ip_limit", resp.Context["reason"])
}

func TestCorrelationMiddleware(t *testing.T) {
	c, rec := newContext()

	var seen string
	handler := correlationMiddleware(func(c echo.Context) error {
		id, ok := correlation.ID(c.Request().Context())
		require.True(t, ok)
		seen = id
		return nil
	})

	require.NoError(t, handler(c))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(correlation.Header))
}

func TestCorrelationMiddleware_RejectsOversizedHeader(t *testing.T) {
	c, rec := newContext()
	oversized := string(make([]byte, maxCorrelationIDLength+1))
	c.Request().Header.Set(correlation.Header, oversized)

	handler := correlationMiddleware(func(c echo.Context) error { return nil })

	require.NoError(t, handler(c))
	assert.NotEqual(t, oversized, rec.Header().Get(correlation.Header))
	assert.Len(t, rec.Header().Get(correlation.Header), 8)
}

func TestHandleErrorWithNil(t *testing.T) {
	c, _ := newContext()
	assert.NoError(t, HandleError(c, nil))
}

func TestHandleHTTPError_RendersStructured(t *testing.T) {
	c, rec := newContext()

	handleHTTPError(echo.ErrMethodNotAllowed, c)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, apperrors.TypeValidation, decodeError(t, rec).Type)
}

func TestHandleHTTPError_SkipsCommittedResponse(t *testing.T) {
	c, rec := newContext()
	require.NoError(t, c.String(http.StatusOK, "done"))

	handleHTTPError(echo.ErrNotFound, c)

	assert.Equal(t, "done", rec.Body.String())
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		httpErr    *echo.HTTPError
		wantType   apperrors.ErrorType
		wantStatus int
	}{
		{"bad_request", echo.NewHTTPError(http.StatusBadRequest, "bad request"), apperrors.TypeValidation, http.StatusBadRequest},
		{"not_found", echo.NewHTTPError(http.StatusNotFound, "not found"), apperrors.TypeNotFound, http.StatusNotFound},
		{"conflict", echo.NewHTTPError(http.StatusConflict, "conflict"), apperrors.TypeConflict, http.StatusConflict},
		{"too_many_requests", echo.NewHTTPError(http.StatusTooManyRequests, "slow down"), apperrors.TypeRateLimited, http.StatusTooManyRequests},
		{"service_unavailable", echo.NewHTTPError(http.StatusServiceUnavailable, "unavailable"), apperrors.TypeUnavailable, http.StatusServiceUnavailable},
		{"bad_gateway", echo.NewHTTPError(http.StatusBadGateway, "bad gateway"), apperrors.TypeExternal, http.StatusBadGateway},
		{"internal_server_error", echo.NewHTTPError(http.StatusInternalServerError, "internal error"), apperrors.TypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapHTTPError(tt.httpErr)

			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}

func TestWrapHTTPErrorWithInternalCause(t *testing.T) {
	cause := errors.New("underlying cause")
	httpErr := echo.NewHTTPError(http.StatusInternalServerError, "wrapped")
	httpErr.Internal = cause

	err := WrapHTTPError(httpErr)

	assert.Equal(t, apperrors.TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
}

func TestWrapHTTPErrorWithNonStringMessage(t *testing.T) {
	err := WrapHTTPError(echo.NewHTTPError(http.StatusBadRequest, 12345))

	assert.Equal(t, "internal server error", err.Message)
	assert.Equal(t, apperrors.TypeValidation, err.Type)
}
