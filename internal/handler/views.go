package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ---------- List views ----------

// GetView renders a list. With ?wait=1 it first waits for the list to
// settle for the current filters and page.
func (h *Handler) GetView(c *gin.Context) {
	b, err := current(c).Board(c.Param("view"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !waitRequested(c) {
		c.JSON(http.StatusOK, b.View())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), maxWait)
	defer cancel()
	v, err := b.Wait(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type filtersRequest struct {
	Search *string `json:"search" binding:"omitempty,max=200"`
	School *string `json:"school" binding:"omitempty,max=100"`
	Period *string `json:"period" binding:"omitempty,max=100"`
	Status *string `json:"status" binding:"omitempty,oneof=all pending approved rejected"`
}

// PatchFilters changes any subset of the filters. The list refetches once
// the filters have been quiet for the debounce window.
func (h *Handler) PatchFilters(c *gin.Context) {
	b, err := current(c).Board(c.Param("view"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req filtersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fm := b.Filters()
	if req.Search != nil {
		fm.SetSearch(*req.Search)
	}
	if req.School != nil {
		fm.SetSchool(*req.School)
	}
	if req.Period != nil {
		fm.SetPeriod(*req.Period)
	}
	if req.Status != nil {
		fm.SetStatus(*req.Status)
	}
	c.JSON(http.StatusAccepted, b.View())
}

type pageRequest struct {
	Page int `json:"page" binding:"required,min=1"`
}

func (h *Handler) PutPage(c *gin.Context) {
	b, err := current(c).Board(c.Param("view"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req pageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b.Controller().SetPage(req.Page)
	c.JSON(http.StatusAccepted, b.View())
}

func (h *Handler) Refresh(c *gin.Context) {
	b, err := current(c).Board(c.Param("view"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	b.Controller().Refresh()
	c.JSON(http.StatusAccepted, b.View())
}
