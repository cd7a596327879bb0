package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thinkchat/thinkchat/store"
)

type ConversationHandler struct {
	store  *store.FileStore
	logger *zap.SugaredLogger
}

func NewConversationHandler(st *store.FileStore, logger *zap.SugaredLogger) *ConversationHandler {
	return &ConversationHandler{store: st, logger: logger}
}

func (h *ConversationHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/conversations")
	group.GET("", h.HandleList)
	group.POST("/new", h.HandleNew)
	group.DELETE("/all", h.HandleDeleteAll)
	group.GET("/:id", h.HandleGet)
	group.DELETE("/:id", h.HandleDelete)
	group.PUT("/:id/rename", h.HandleRename)
	group.PUT("/:id/edit_last_message", h.HandleEditLastMessage)
}

func (h *ConversationHandler) HandleList(c *gin.Context) {
	conversations, err := h.store.List()
	if err != nil {
		h.logger.Errorf("list conversations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (h *ConversationHandler) HandleGet(c *gin.Context) {
	conv, err := h.store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
		h.logger.Errorf("load conversation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) HandleNew(c *gin.Context) {
	conv, err := h.store.Create()
	if err != nil {
		h.logger.Errorf("create conversation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) HandleDelete(c *gin.Context) {
	if err := h.store.Delete(c.Param("id")); err != nil {
		h.logger.Errorf("delete conversation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *ConversationHandler) HandleDeleteAll(c *gin.Context) {
	if err := h.store.DeleteAll(); err != nil {
		h.logger.Errorf("delete all conversations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type renamePayload struct {
	Title string `json:"title"`
}

func (h *ConversationHandler) HandleRename(c *gin.Context) {
	var payload renamePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload", "detail": err.Error()})
		return
	}

	if err := h.store.Rename(c.Param("id"), payload.Title); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
		h.logger.Errorf("rename conversation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rename conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type editLastMessagePayload struct {
	Message string `json:"message"`
}

func (h *ConversationHandler) HandleEditLastMessage(c *gin.Context) {
	var payload editLastMessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload", "detail": err.Error()})
		return
	}

	if err := h.store.EditLastUserMessage(c.Param("id"), payload.Message); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		case errors.Is(err, store.ErrNotUserMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No user message to edit"})
		default:
			h.logger.Errorf("edit last message: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to edit message"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
