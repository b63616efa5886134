package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"feeportal/internal/viewer"
)

// ---------- Receipt viewer ----------

// OpenReceipt downloads a payment's receipt into the viewer and returns the
// resulting frame. Download and render failures are reported inside the
// frame, not as HTTP errors.
func (h *Handler) OpenReceipt(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}
	c.JSON(http.StatusOK, current(c).Viewer.Open(c.Request.Context(), id))
}

func (h *Handler) GetReceipt(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).Viewer.State())
}

func (h *Handler) CloseReceipt(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).Viewer.Close())
}

type pageNavRequest struct {
	Action string `json:"action" binding:"required,oneof=next prev goto"`
	Page   int    `json:"page"`
}

func (h *Handler) ReceiptPage(c *gin.Context) {
	var req pageNavRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v := current(c).Viewer
	var st viewer.State
	switch req.Action {
	case "next":
		st = v.Next()
	case "prev":
		st = v.Prev()
	default:
		st = v.GoTo(req.Page)
	}
	c.JSON(http.StatusOK, st)
}

type viewportRequest struct {
	Width  int `json:"width" binding:"required,min=1"`
	Height int `json:"height" binding:"omitempty,min=0"`
}

// ReceiptViewport reports the browser's viewport. The layout follows once
// resizing has stopped.
func (h *Handler) ReceiptViewport(c *gin.Context) {
	var req viewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v := current(c).Viewer
	v.Resize(req.Width, req.Height)
	c.JSON(http.StatusAccepted, v.State())
}

type panZoomRequest struct {
	Action string  `json:"action" binding:"required,oneof=zoom_in zoom_out zoom pan reset"`
	Factor float64 `json:"factor"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
}

func (h *Handler) ReceiptPanZoom(c *gin.Context) {
	var req panZoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, ok := current(c).Viewer.Transform(func(p viewer.PanZoom) viewer.PanZoom {
		switch req.Action {
		case "zoom_in":
			return p.ZoomIn()
		case "zoom_out":
			return p.ZoomOut()
		case "zoom":
			return p.ZoomBy(req.Factor)
		case "pan":
			return p.Pan(req.DX, req.DY)
		}
		return p.Reset()
	})
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no image open", "state": st})
		return
	}
	c.JSON(http.StatusOK, st)
}

// ---------- Object URLs ----------

// Blob serves the bytes behind an object URL to the session that owns it.
func (h *Handler) Blob(c *gin.Context) {
	b, ok := h.spaces.Blobs().Resolve(c.Param("id"))
	if !ok || b.Owner != current(c).ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.Header("Content-Disposition", "inline")
	c.Data(http.StatusOK, b.ContentType, b.Data)
}
