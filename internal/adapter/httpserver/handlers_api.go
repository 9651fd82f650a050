package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ajith4Tech/rforum/internal/adapter/redis"
	"github.com/ajith4Tech/rforum/internal/domain"
	apperrors "github.com/ajith4Tech/rforum/internal/platform/errors"
	"github.com/ajith4Tech/rforum/internal/platform/version"
)

type presenceResponse struct {
	Channel     string `json:"channel"`
	Connections int    `json:"connections"`
	Subscribed  bool   `json:"subscribed"`
	Origin      string `json:"origin"`
}

type instancesResponse struct {
	Self      string               `json:"self"`
	Instances []redis.InstanceInfo `json:"instances"`
}

// handlePresence reports the connections this process holds for a session.
// Other processes are not consulted.
func (s *Server) handlePresence(c echo.Context) error {
	code := c.Param("code")
	if err := domain.ValidateChannel(code); err != nil {
		return fmt.Errorf("presence: %w", err)
	}

	response := presenceResponse{
		Channel:     code,
		Connections: s.hub.Presence(code),
		Subscribed:  s.hub.Subscribed(code),
		Origin:      s.hub.Origin().String(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write presence response: %w", err)
	}
	return nil
}

func (s *Server) handleInstances(c echo.Context) error {
	self := s.hub.Origin().String()

	var instances []redis.InstanceInfo
	if s.instances == nil {
		instances = []redis.InstanceInfo{{
			Origin:    self,
			Timestamp: time.Now().Unix(),
			Version:   version.Version,
			Channels:  s.hub.ChannelCount(),
		}}
	} else {
		var err error
		instances, err = s.instances.Active(c.Request().Context())
		if err != nil {
			return apperrors.ExternalError("failed to list instances", err)
		}
	}

	if err := c.JSON(http.StatusOK, instancesResponse{Self: self, Instances: instances}); err != nil {
		return fmt.Errorf("failed to write instances response: %w", err)
	}
	return nil
}
