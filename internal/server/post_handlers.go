package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/posts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opCreatePost = "http.posts.create"
	opUpdatePost = "http.posts.update"

	streamEventPosts     = "posts"
	streamEventHeartbeat = "heartbeat"
)

type postResponsePayload struct {
	posts.Post
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type createPostResponsePayload struct {
	ID string `json:"id"`
}

func presentPost(post posts.Post) postResponsePayload {
	payload := postResponsePayload{Post: post}
	if post.Committed() {
		timestamp := post.Timestamp()
		payload.Timestamp = &timestamp
	}
	return payload
}

func presentPosts(list []posts.Post) []postResponsePayload {
	payload := make([]postResponsePayload, 0, len(list))
	for _, post := range list {
		payload = append(payload, presentPost(post))
	}
	return payload
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	list, err := h.posts.List(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, presentPosts(list))
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	post, err := h.posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, presentPost(post))
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var draft posts.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		h.renderError(c, invalidRequest(opCreatePost, err))
		return
	}
	postID, err := h.posts.Create(c.Request.Context(), draft, c.GetString(userIDContextKey))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createPostResponsePayload{ID: postID})
}

func (h *httpHandler) handleUpdatePost(c *gin.Context) {
	var patch posts.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.renderError(c, invalidRequest(opUpdatePost, err))
		return
	}
	if err := h.posts.Update(c.Request.Context(), c.Param("id"), patch, c.GetString(userIDContextKey)); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	if err := h.posts.Delete(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey)); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handlePostStream sends the full ordered post list as a server-sent event
// on subscribe and after every change.
func (h *httpHandler) handlePostStream(c *gin.Context) {
	ctx := c.Request.Context()
	snapshots := make(chan []posts.Post, 1)
	unsubscribe, err := h.posts.Subscribe(ctx, func(list []posts.Post) {
		for {
			select {
			case snapshots <- list:
				return
			default:
			}
			select {
			case <-snapshots:
			default:
			}
		}
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	defer unsubscribe()

	userID := c.GetString(userIDContextKey)
	h.logger.Debug("post stream opened", zap.String("user_id", userID))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case list := <-snapshots:
			c.SSEvent(streamEventPosts, presentPosts(list))
			return true
		case instant := <-ticker.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"timestamp": instant.UTC()})
			return true
		}
	})
	h.logger.Debug("post stream closed", zap.String("user_id", userID))
}
