package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/firestarter/internal/controller"
	"github.com/loykin/firestarter/internal/intent"
	"github.com/loykin/firestarter/internal/menu"
	"github.com/loykin/firestarter/internal/metrics"
	"github.com/loykin/firestarter/internal/migration"
	"github.com/loykin/firestarter/internal/notify"
	"github.com/loykin/firestarter/internal/orchestrator"
	"github.com/loykin/firestarter/internal/process"
)

// Router provides embeddable HTTP handlers that present the menu and
// dispatch intents.
// Endpoints:
//   GET  {basePath}/status              orchestrator snapshot and run process usage
//   GET  {basePath}/menu                last rendered menu
//   GET  {basePath}/migrations          pending migrations, read fresh
//   GET  {basePath}/intents             registered intent names
//   POST {basePath}/intents/:name       query: wait=true, confirm=true
//   POST {basePath}/refresh
//   GET  {basePath}/notifications       query: since=N
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl     Controller
	orch     Orchestrator
	intents  Intents
	notes    Notifications
	basePath string
	ctx      context.Context
}

// Controller is the part of the controller the router presents.
type Controller interface {
	View() controller.View
	Pending(ctx context.Context) ([]menu.AppMigrations, error)
	MigrationPrompt(ctx context.Context, app string, version int) (string, error)
	Refresh(ctx context.Context) error
}

type Orchestrator interface {
	Snapshot() orchestrator.Snapshot
	RunProcess() orchestrator.Process
}

type Intents interface {
	Names() []string
	Lookup(name string) (intent.Handler, error)
}

type Notifications interface {
	Since(seq uint64) []notify.Notification
	Last() uint64
}

type Options struct {
	Controller    Controller
	Orchestrator  Orchestrator
	Intents       Intents
	Notifications Notifications // optional
	BasePath      string
	// Context is the parent of asynchronously dispatched intents.
	Context context.Context
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/fire" results in /fire/status, /fire/menu, ...
func NewRouter(opts Options) *Router {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Router{
		ctrl:     opts.Controller,
		orch:     opts.Orchestrator,
		intents:  opts.Intents,
		notes:    opts.Notifications,
		basePath: sanitizeBase(opts.BasePath),
		ctx:      ctx,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/menu", r.handleMenu)
	group.GET("/migrations", r.handleMigrations)
	group.GET("/intents", r.handleIntents)
	group.POST("/intents/:name", r.handleDispatch)
	group.POST("/refresh", r.handleRefresh)
	group.GET("/notifications", r.handleNotifications)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, opts Options) (*http.Server, error) {
	r := NewRouter(opts)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: ?wait=true blocks for the whole build
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "addr", addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	orchestrator.Snapshot
	Usage *process.Usage `json:"usage,omitempty"`
}

type dispatchResp struct {
	Intent   string `json:"intent"`
	Accepted bool   `json:"accepted"`
	Done     bool   `json:"done"`
}

type confirmResp struct {
	Intent  string `json:"intent"`
	Prompt  string `json:"prompt"`
	Confirm bool   `json:"confirm_required"`
}

type notificationsResp struct {
	Last          uint64                `json:"last"`
	Notifications []notify.Notification `json:"notifications"`
}

type usageSampler interface {
	Usage() (process.Usage, error)
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{Snapshot: r.orch.Snapshot()}
	if p, ok := r.orch.RunProcess().(usageSampler); ok {
		if u, err := p.Usage(); err == nil {
			resp.Usage = &u
			metrics.SetRunUsage(u.CPUPercent, u.MemoryRSS)
		} else {
			slog.Debug("Failed to sample run process", "error", err)
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleMenu(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctrl.View())
}

func (r *Router) handleMigrations(c *gin.Context) {
	apps, err := r.ctrl.Pending(c.Request.Context())
	if err != nil {
		writeJSON(c, errorStatus(err), errorResp{Error: err.Error()})
		return
	}
	if apps == nil {
		apps = []menu.AppMigrations{}
	}
	writeJSON(c, http.StatusOK, apps)
}

func (r *Router) handleIntents(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.intents.Names())
}

func (r *Router) handleDispatch(c *gin.Context) {
	name := c.Param("name")
	if !isSafeIntent(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid intent name: allowed [A-Za-z0-9:._-]"})
		return
	}
	app, version, isMigrate := intent.ParseMigrate(name)
	if !isMigrate && intent.HasMigratePrefix(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "malformed migrate intent: want migrate:<app>:<version>"})
		return
	}
	h, err := r.intents.Lookup(name)
	if err != nil {
		writeJSON(c, errorStatus(err), errorResp{Error: err.Error()})
		return
	}

	if isMigrate && !queryBool(c, "confirm") {
		prompt, err := r.ctrl.MigrationPrompt(c.Request.Context(), app, version)
		if err != nil {
			writeJSON(c, errorStatus(err), errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusConflict, confirmResp{Intent: name, Prompt: prompt, Confirm: true})
		return
	}

	if queryBool(c, "wait") {
		if err := h(c.Request.Context()); err != nil {
			writeJSON(c, errorStatus(err), errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, dispatchResp{Intent: name, Accepted: true, Done: true})
		return
	}

	go func() {
		if err := h(r.ctx); err != nil {
			slog.Debug("Intent failed", "intent", name, "error", err)
		}
	}()
	writeJSON(c, http.StatusAccepted, dispatchResp{Intent: name, Accepted: true})
}

func (r *Router) handleRefresh(c *gin.Context) {
	if err := r.ctrl.Refresh(c.Request.Context()); err != nil {
		// the menu was still rendered
		slog.Warn("Refresh incomplete", "error", err)
	}
	writeJSON(c, http.StatusOK, r.ctrl.View())
}

func (r *Router) handleNotifications(c *gin.Context) {
	if r.notes == nil {
		writeJSON(c, http.StatusOK, notificationsResp{Notifications: []notify.Notification{}})
		return
	}
	var since uint64
	if s := c.Query("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid since: " + err.Error()})
			return
		}
		since = v
	}
	writeJSON(c, http.StatusOK, notificationsResp{Last: r.notes.Last(), Notifications: r.notes.Since(since)})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var cfgErr *migration.ConfigurationError
	var connErr *migration.ConnectionError
	var taskErr *process.TaskError
	var spawnErr *process.SpawnError
	switch {
	case errors.Is(err, intent.ErrUnknownIntent):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrBusy), errors.Is(err, orchestrator.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusPreconditionFailed
	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &taskErr), errors.As(err, &spawnErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
