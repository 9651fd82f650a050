package httpserver

import (
	"errors"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/ajith4Tech/rforum/internal/domain"
	apperrors "github.com/ajith4Tech/rforum/internal/platform/errors"
)

// handleWebSocket admits a handshake for /ws/:code and hands the upgraded
// socket to the hub. Rejections before the upgrade are plain HTTP errors;
// once upgraded, failures are reported to the client as close frames.
func (s *Server) handleWebSocket(c echo.Context) error {
	code := c.Param("code")
	if err := domain.ValidateChannel(code); err != nil {
		s.reject(rejectInvalidChannel)
		return apperrors.ValidationError("invalid session code").WithContext("code", code)
	}

	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		s.reject(string(reason))
		if reason == LimitReasonRate {
			return apperrors.RateLimitedError("too many connection attempts")
		}
		return apperrors.UnavailableError("connection limit reached").WithContext("reason", string(reason))
	}
	defer s.limits.Release(ip)

	ctx := c.Request().Context()
	if s.directory != nil {
		if _, err := s.directory.Lookup(ctx, code); err != nil {
			if errors.Is(err, domain.ErrChannelNotFound) {
				s.reject(rejectUnknownChannel)
				return apperrors.NotFoundError("session not found").WithContext("code", code)
			}
			return apperrors.ExternalError("session lookup failed", err)
		}
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		slog.DebugContext(ctx, "WebSocket upgrade failed", "channel", code, "error", err)
		return nil
	}

	slog.DebugContext(ctx, "WebSocket connected", "channel", code, "remote_ip", ip)
	if err := s.hub.Serve(ctx, code, ws); err != nil {
		slog.InfoContext(ctx, "WebSocket session ended with error", "channel", code, "error", err)
		return nil
	}
	slog.DebugContext(ctx, "WebSocket disconnected", "channel", code)
	return nil
}

func (s *Server) reject(reason string) {
	s.fanoutMetrics.RejectedConnections.WithLabelValues(reason).Inc()
}
