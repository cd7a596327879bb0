package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thinkchat/thinkchat/config"
	"github.com/thinkchat/thinkchat/services"
)

// doneSentinel terminates every chat stream so clients can detect the
// end deterministically, on error paths included.
const doneSentinel = "[DONE]"

type ChatHandler struct {
	cfg    *config.Config
	chat   *services.ChatService
	logger *zap.SugaredLogger
}

func NewChatHandler(cfg *config.Config, chat *services.ChatService, logger *zap.SugaredLogger) *ChatHandler {
	return &ChatHandler{cfg: cfg, chat: chat, logger: logger}
}

func (h *ChatHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/chat", h.HandleChat)
}

type chatRequestPayload struct {
	ConversationID  string   `json:"conversationId"`
	Message         string   `json:"message"`
	ProviderBaseURL string   `json:"providerBaseUrl"`
	APIKey          string   `json:"apiKey"`
	Model           string   `json:"model"`
	Temperature     *float64 `json:"temperature"`
	TopP            *float64 `json:"topP"`
}

// HandleChat runs one chat turn and streams typed events back as
// server-sent `data:` frames terminated by a [DONE] sentinel.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	var payload chatRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload", "detail": err.Error()})
		return
	}

	req := services.ChatRequest{
		ConversationID: strings.TrimSpace(payload.ConversationID),
		Message:        payload.Message,
		BaseURL:        h.resolveBaseURL(payload.ProviderBaseURL),
		APIKey:         h.resolveAPIKey(c, payload.APIKey),
		Model:          h.resolveModel(payload.Model),
		Temperature:    h.cfg.Temperature,
		TopP:           h.cfg.TopP,
	}
	if payload.Temperature != nil {
		req.Temperature = *payload.Temperature
	}
	if payload.TopP != nil {
		req.TopP = *payload.TopP
	}

	if strings.TrimSpace(req.Message) == "" || req.ConversationID == "" || req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters"})
		return
	}

	started := false
	emit := func(ev services.Event) {
		if !started {
			writeStreamHeaders(c)
			started = true
		}
		frame, err := json.Marshal(ev)
		if err != nil {
			h.logger.Errorf("encode stream event: %v", err)
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", frame)
		c.Writer.Flush()
	}

	err := h.chat.StreamChat(c.Request.Context(), req, emit)
	if err != nil && !started {
		// Nothing has been streamed, so a plain status response is
		// still possible.
		if errors.Is(err, services.ErrMissingParams) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters"})
			return
		}
		h.logger.Errorf("chat turn failed before streaming: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start chat stream", "detail": err.Error()})
		return
	}
	if err != nil {
		h.logger.Warnf("chat stream ended with error: %v", err)
	}

	if !started {
		writeStreamHeaders(c)
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", doneSentinel)
	c.Writer.Flush()
}

func (h *ChatHandler) resolveBaseURL(explicit string) string {
	if base := strings.TrimSpace(explicit); base != "" {
		return strings.TrimRight(base, "/")
	}
	return h.cfg.OpenAIBaseURL
}

func (h *ChatHandler) resolveModel(explicit string) string {
	if model := strings.TrimSpace(explicit); model != "" {
		return model
	}
	return h.cfg.OpenAIModel
}

func (h *ChatHandler) resolveAPIKey(c *gin.Context, explicit string) string {
	if key := strings.TrimSpace(explicit); key != "" {
		return key
	}
	if header := parseAuthorizationToken(c.GetHeader("Authorization")); header != "" {
		return header
	}
	return strings.TrimSpace(h.cfg.OpenAIAPIKey)
}

func parseAuthorizationToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return header
}

func writeStreamHeaders(c *gin.Context) {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}
