// Package httpapi exposes schedule state over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"driftd/internal/adapter/probe"
	"driftd/internal/adapter/scheduler"
	"driftd/internal/history"
	"driftd/internal/shared"
)

// Registry is the part of the scheduler the API reads and controls.
type Registry interface {
	IsRunning() bool
	Snapshot() []scheduler.JobInfo
	Job(id string) (scheduler.JobInfo, error)
	Cancel(id string) error
}

// History returns recorded ticks of a schedule.
type History interface {
	Recent(ctx context.Context, schedule string, limit int) ([]history.Record, error)
}

// Deps are the components served by the API. History, Metrics and Probes are optional.
type Deps struct {
	Registry Registry
	History  History
	Metrics  http.Handler
	Probes   map[string]*probe.Probe
	Logger   *slog.Logger
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type api struct {
	Deps
}

// NewRouter builds the gin engine with all routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	a := &api{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger))

	r.GET("/healthz", a.health)
	r.GET("/schedules", a.list)
	r.GET("/schedules/:id", a.get)
	r.GET("/schedules/:id/history", a.history)
	r.POST("/schedules/:id/cancel", a.cancel)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	return r
}

// NewServer wraps the router into an http.Server.
func NewServer(addr string, d Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type scheduleView struct {
	scheduler.JobInfo
	Probe *probe.Stats `json:"probe,omitempty"`
}

func (a *api) view(info scheduler.JobInfo) scheduleView {
	v := scheduleView{JobInfo: info}
	if p, ok := a.Probes[info.Name]; ok {
		st := p.Stats()
		v.Probe = &st
	}
	return v
}

func (a *api) health(c *gin.Context) {
	running := a.Registry.IsRunning()
	status, code := "ok", http.StatusOK
	if !running {
		status, code = "stopped", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"schedules": len(a.Registry.Snapshot()),
	})
}

func (a *api) list(c *gin.Context) {
	snap := a.Registry.Snapshot()
	out := make([]scheduleView, 0, len(snap))
	for _, info := range snap {
		out = append(out, a.view(info))
	}
	c.JSON(http.StatusOK, gin.H{"schedules": out})
}

func (a *api) get(c *gin.Context) {
	info, err := a.Registry.Job(c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a.view(info))
}

func (a *api) history(c *gin.Context) {
	if a.History == nil {
		a.fail(c, shared.MarkKind(errors.New("history is disabled"), shared.KindNotFound))
		return
	}
	info, err := a.Registry.Job(c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			a.fail(c, shared.MarkKind(errors.New("limit must be between 1 and 500"), shared.KindValidation))
			return
		}
		limit = n
	}

	records, err := a.History.Recent(c.Request.Context(), info.Name, limit)
	if err != nil {
		a.fail(c, shared.MarkKind(err, shared.KindDependencyFailure))
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"schedule": info.Name, "records": records})
}

func (a *api) cancel(c *gin.Context) {
	id := c.Param("id")
	if err := a.Registry.Cancel(id); err != nil {
		a.fail(c, err)
		return
	}
	info, err := a.Registry.Job(id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, a.view(info))
}

func (a *api) fail(c *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		a.Logger.Error("api request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error(), "kind": shared.KindOf(err).String()})
}

func statusOf(err error) int {
	switch shared.KindOf(err) {
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindValidation:
		return http.StatusBadRequest
	case shared.KindConflict:
		return http.StatusConflict
	case shared.KindTimeout:
		return http.StatusGatewayTimeout
	case shared.KindDependencyFailure:
		return http.StatusBadGateway
	case shared.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("dur", time.Since(start)))
	}
}
