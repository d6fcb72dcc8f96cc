package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/wwessex/smart-tool/internal/train"
	"github.com/wwessex/smart-tool/internal/version"
)

// StatusProvider is what the server needs from a training run. The
// trainer's Tracker satisfies it.
type StatusProvider interface {
	Snapshot() train.Snapshot
}

// Server exposes a read-only view of a running training job: liveness
// for orchestration and a progress snapshot for dashboards. It never
// mutates the run.
type Server struct {
	status StatusProvider
}

func NewServer(status StatusProvider) *Server {
	return &Server{status: status}
}

// Register mounts the routes on an Echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/status", s.handleStatus)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

type statusResponse struct {
	train.Snapshot
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Progress       float64 `json:"progress"`
}

func (s *Server) handleStatus(c *echo.Context) error {
	snap := s.status.Snapshot()
	resp := statusResponse{
		Snapshot:       snap,
		ElapsedSeconds: time.Since(snap.StartedAt).Seconds(),
	}
	if snap.TotalSteps > 0 {
		resp.Progress = float64(snap.Step) / float64(snap.TotalSteps)
	}
	return c.JSON(http.StatusOK, resp)
}
