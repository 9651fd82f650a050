package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajith4Tech/rforum/internal/domain"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{ValidationError("bad"), http.StatusBadRequest},
		{NotFoundError("missing"), http.StatusNotFound},
		{ConflictError("dup"), http.StatusConflict},
		{RateLimitedError("slow down"), http.StatusTooManyRequests},
		{UnavailableError("full"), http.StatusServiceUnavailable},
		{ExternalError("redis", errors.New("down")), http.StatusBadGateway},
		{InternalError("boom", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := ExternalError("publish failed", errors.New("connection reset"))
	assert.Equal(t, "external: publish failed: connection reset", err.Error())
	assert.Equal(t, "not_found: nope", NotFoundError("nope").Error())
}

func TestToResponse(t *testing.T) {
	resp := ValidationError("invalid session code").WithContext("code", "a b").ToResponse()
	assert.Equal(t, "invalid session code", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "a b", resp.Context["code"])
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := UnavailableError("limit")
	assert.Same(t, original, AsStructuredError(fmt.Errorf("wrapped: %w", original)))

	tests := []struct {
		err  error
		want ErrorType
	}{
		{fmt.Errorf("code %q: %w", "", domain.ErrInvalidChannel), TypeValidation},
		{domain.ErrChannelNotFound, TypeNotFound},
		{domain.ErrChannelFull, TypeUnavailable},
		{domain.ErrHubClosed, TypeUnavailable},
		{errors.New("mystery"), TypeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := AsStructuredError(tt.err)
			assert.Equal(t, tt.want, got.Type)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}
