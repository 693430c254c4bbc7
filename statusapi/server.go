package statusapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"bookagent.dev/logging"
)

// Server hosts the local status/observability endpoint. It is local-only by
// convention (bind to loopback unless a reverse proxy terminates auth) and
// never touches the durable store - everything it serves comes from an
// in-memory Manager.
type Server struct {
	echo    *echo.Echo
	manager *Manager
	addr    string
	log     *logging.ContextLogger
}

// NewServer builds a Server. If jwtSecret is non-empty, every route except
// /healthz requires a Bearer token signed with it.
func NewServer(addr, jwtSecret string, manager *Manager, log *logging.ContextLogger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	group := e.Group("")
	if jwtSecret != "" {
		group.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey:  []byte(jwtSecret),
			TokenLookup: "header:Authorization:Bearer ",
		}))
	}

	s := &Server{echo: e, manager: manager, addr: addr, log: log.WithField("component", "statusapi")}
	group.GET("/state", s.handleList)
	group.GET("/state/:id", s.handleGet)
	group.GET("/state/stats", s.handleStats)

	return s
}

// operationView adds a humanized age alongside the raw timestamps, for
// operators eyeballing the endpoint directly.
type operationView struct {
	*Operation
	Age string `json:"age"`
}

func (s *Server) view(op *Operation) operationView {
	return operationView{Operation: op, Age: humanize.Time(op.StartedAt)}
}

func (s *Server) handleList(c echo.Context) error {
	ops := s.manager.List()
	views := make([]operationView, 0, len(ops))
	for _, op := range ops {
		views = append(views, s.view(op))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleGet(c echo.Context) error {
	op := s.manager.Get(c.Param("id"))
	if op == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "operation not found"})
	}
	return c.JSON(http.StatusOK, s.view(op))
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.GetStats())
}

// Start runs the HTTP server in the background.
func (s *Server) Start() {
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			s.log.WithField("error", err.Error()).Error("status API server stopped")
		}
	}()
}

// Shutdown gracefully stops the server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
