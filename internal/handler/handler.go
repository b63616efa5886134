package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"feeportal/internal/auth"
	"feeportal/internal/workspace"
)

// CookieName holds the portal session id.
const CookieName = "portal_sid"

const (
	workspaceKey = "workspace"
	maxWait      = 10 * time.Second
)

// Options tune the handler.
type Options struct {
	SessionTTL   time.Duration
	SecureCookie bool
	// FileLimit guards the receipt download endpoints; nil disables it.
	FileLimit gin.HandlerFunc
	// SignInLimit guards session creation; nil disables it.
	SignInLimit gin.HandlerFunc
	Logger      *slog.Logger
}

type Handler struct {
	spaces *workspace.Registry
	opts   Options
	log    *slog.Logger
}

func New(spaces *workspace.Registry, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FileLimit == nil {
		opts.FileLimit = passThrough
	}
	if opts.SignInLimit == nil {
		opts.SignInLimit = passThrough
	}
	return &Handler{spaces: spaces, opts: opts, log: opts.Logger}
}

func passThrough(c *gin.Context) { c.Next() }

// Register mounts the portal routes.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/portal/session", h.opts.SignInLimit, auth.RequireBearer(), h.CreateSession)

	p := r.Group("/portal", h.requireWorkspace)
	{
		p.DELETE("/session", h.DeleteSession)
		p.GET("/dashboard", h.Dashboard)

		p.GET("/views/:view", h.GetView)
		p.PATCH("/views/:view/filters", h.PatchFilters)
		p.PUT("/views/:view/page", h.PutPage)
		p.POST("/views/:view/refresh", h.Refresh)

		p.POST("/receipts/:id", h.opts.FileLimit, h.OpenReceipt)
		p.GET("/receipt", h.GetReceipt)
		p.POST("/receipt/page", h.ReceiptPage)
		p.POST("/receipt/viewport", h.ReceiptViewport)
		p.POST("/receipt/panzoom", h.ReceiptPanZoom)
		p.DELETE("/receipt", h.CloseReceipt)
	}
	r.GET("/blobs/:id", h.requireWorkspace, h.opts.FileLimit, h.Blob)
}

// ---------- Session ----------

type sessionRequest struct {
	User auth.User `json:"user"`
}

// CreateSession signs a browser in with the API token it obtained at login.
func (h *Handler) CreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token := c.GetString(auth.BearerKey)

	// a browser that still holds a live workspace signs in again in place,
	// so its open lists reload with the new token
	status := http.StatusCreated
	var (
		ws   *workspace.Workspace
		sess auth.Session
		err  error
	)
	if existing := h.liveWorkspace(c); existing != nil {
		ws, status = existing, http.StatusOK
		sess, err = ws.Login(c.Request.Context(), token, req.User)
	} else {
		ws, sess, err = h.spaces.Create(c.Request.Context(), token, req.User)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, ws.ID, int(h.opts.SessionTTL.Seconds()), "/", "", h.opts.SecureCookie, true)

	resp := gin.H{"user": sess.User}
	if !sess.ExpiresAt.IsZero() {
		resp["expires_at"] = sess.ExpiresAt.Unix()
	}
	c.JSON(status, resp)
}

// liveWorkspace returns the workspace named by the request's cookie, or nil.
func (h *Handler) liveWorkspace(c *gin.Context) *workspace.Workspace {
	sid, err := c.Cookie(CookieName)
	if err != nil || sid == "" {
		return nil
	}
	ws, err := h.spaces.Get(c.Request.Context(), sid)
	if err != nil {
		if !errors.Is(err, workspace.ErrNotFound) {
			h.log.Warn("session lookup failed", "error", err)
		}
		return nil
	}
	return ws
}

// DeleteSession signs out and forgets the workspace.
func (h *Handler) DeleteSession(c *gin.Context) {
	ws := current(c)
	if err := h.spaces.Remove(c.Request.Context(), ws.ID); err != nil && !errors.Is(err, workspace.ErrNotFound) {
		h.log.Warn("logout failed", "workspace", ws.ID, "error", err)
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", h.opts.SecureCookie, true)
	c.Status(http.StatusNoContent)
}

func (h *Handler) requireWorkspace(c *gin.Context) {
	sid, err := c.Cookie(CookieName)
	if err != nil || sid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentification requise."})
		return
	}
	ws, err := h.spaces.Get(c.Request.Context(), sid)
	if err != nil {
		if !errors.Is(err, workspace.ErrNotFound) {
			h.log.Error("session lookup failed", "error", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentification requise."})
		return
	}
	c.Set(workspaceKey, ws)
	c.Next()
}

func current(c *gin.Context) *workspace.Workspace {
	return c.MustGet(workspaceKey).(*workspace.Workspace)
}

// ---------- Dashboard ----------

func (h *Handler) Dashboard(c *gin.Context) {
	ws := current(c)
	sum, err := ws.Dashboard.Load(c.Request.Context(), ws.Auth)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// ---------- Errors ----------

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, workspace.ErrNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentification requise."})
	case errors.Is(err, workspace.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Accès refusé."})
	case errors.Is(err, workspace.ErrUnknownView):
		c.JSON(http.StatusNotFound, gin.H{"error": "Vue inconnue."})
	case errors.Is(err, context.Canceled):
		c.Status(499) // client closed request
	default:
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur interne."})
	}
}

func waitRequested(c *gin.Context) bool {
	v, err := strconv.ParseBool(c.DefaultQuery("wait", "0"))
	return err == nil && v
}
