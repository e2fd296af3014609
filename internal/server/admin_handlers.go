package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"github.com/gin-gonic/gin"
)

const opSetRole = "http.admin.set_role"

type setRoleRequestPayload struct {
	Role string `json:"role"`
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	users, err := h.directory.ListUsers(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *httpHandler) handleSetRole(c *gin.Context) {
	var request setRoleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.renderError(c, invalidRequest(opSetRole, err))
		return
	}
	role := profiles.Role(request.Role)
	if err := h.directory.SetRole(c.Request.Context(), c.Param("id"), role, c.GetString(userIDContextKey)); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.directory.Stats(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     stats.Total,
		"published": stats.Published,
		"drafts":    stats.Drafts,
		"mine":      stats.Mine,
		"recent":    presentPosts(stats.Recent),
	})
}
