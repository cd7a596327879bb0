package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thinkchat/thinkchat/internal/models"
	"github.com/thinkchat/thinkchat/store"
)

const (
	EventUser        = "user"
	EventTitleUpdate = "title_update"
	EventThinkStart  = "think_start"
	EventThink       = "think"
	EventThinkEnd    = "think_end"
	EventAssistant   = "assistant"
	EventError       = "error"
)

// benignTruncation is the provider failure signature that ends a stream
// quietly instead of surfacing an error event.
const benignTruncation = "incomplete chunked read"

// ErrMissingParams is returned when the message, conversation id or
// credential is absent. It is reported before any event is emitted.
var ErrMissingParams = errors.New("missing required parameters")

// Event is one typed server-to-client stream frame.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// ChatRequest describes one chat turn. The caller supplies the
// conversation id; unknown ids start a fresh conversation.
type ChatRequest struct {
	ConversationID string
	Message        string
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	TopP           float64
}

// ChatService runs one chat turn against the completion provider and
// streams typed events back through an emit callback, checkpointing
// partial assistant output as it accumulates.
type ChatService struct {
	store    *store.FileStore
	provider CompletionProvider
	logger   *zap.SugaredLogger
}

func NewChatService(st *store.FileStore, provider CompletionProvider, logger *zap.SugaredLogger) *ChatService {
	return &ChatService{store: st, provider: provider, logger: logger}
}

// StreamChat appends the user turn, forwards the conversation to the
// provider and relays the response. Events are pushed through emit in
// arrival order; emit is never called after StreamChat returns. An
// error returned before the first emit call means no stream output was
// produced at all.
func (s *ChatService) StreamChat(ctx context.Context, req ChatRequest, emit func(Event)) error {
	if strings.TrimSpace(req.Message) == "" ||
		strings.TrimSpace(req.ConversationID) == "" ||
		strings.TrimSpace(req.APIKey) == "" {
		return ErrMissingParams
	}

	conv, err := s.store.Get(req.ConversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load conversation: %w", err)
		}
		conv = &models.Conversation{
			ID:        req.ConversationID,
			Title:     "New Chat",
			Timestamp: time.Now().UnixMilli(),
			Messages:  []models.Message{},
		}
	}

	conv.Messages = append(conv.Messages, models.Message{
		Role:    models.RoleUser,
		Content: req.Message,
	})

	firstMessage := len(conv.Messages) == 1
	if firstMessage {
		conv.Title = deriveTitle(req.Message)
	}

	// An unanswered user turn must survive a crash before the reply
	// begins.
	if err := s.store.Save(conv); err != nil {
		return fmt.Errorf("persist user turn: %w", err)
	}

	emit(Event{Type: EventUser, Content: req.Message})
	if firstMessage {
		emit(Event{Type: EventTitleUpdate, Content: conv.Title})
	}

	stream, err := s.provider.Stream(ctx, ProviderParams{
		BaseURL:     req.BaseURL,
		APIKey:      req.APIKey,
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}, providerMessages(conv))
	if err != nil {
		s.logger.Errorf("open completion stream: %v", err)
		emit(Event{Type: EventError, Content: err.Error()})
		return fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	scanner := &tagScanner{}
	var thinkBuf strings.Builder
	finalIdx := -1
	var streamErr error

	for {
		fragment, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if strings.Contains(err.Error(), benignTruncation) {
				s.logger.Warnf("incomplete chunked read, finishing stream gracefully")
				break
			}
			s.logger.Errorf("streaming error: %v", err)
			emit(Event{Type: EventError, Content: err.Error()})
			streamErr = err
			break
		}
		if fragment == "" {
			continue
		}
		if err := s.relay(scanner.Feed(fragment), conv, &thinkBuf, &finalIdx, emit); err != nil {
			s.logger.Errorf("checkpoint failed mid-stream: %v", err)
			emit(Event{Type: EventError, Content: err.Error()})
			streamErr = err
			break
		}
	}

	if streamErr == nil {
		if err := s.relay(scanner.Finish(), conv, &thinkBuf, &finalIdx, emit); err != nil {
			s.logger.Errorf("checkpoint failed at stream end: %v", err)
			emit(Event{Type: EventError, Content: err.Error()})
			streamErr = err
		}
	}

	// Final unconditional checkpoint, which also settles the loading
	// flag now that the reply is complete.
	if finalIdx >= 0 {
		conv.Messages[finalIdx].Loading = false
	}
	if err := s.store.Save(conv); err != nil {
		s.logger.Errorf("final checkpoint failed: %v", err)
		if streamErr == nil {
			streamErr = err
		}
	}

	return streamErr
}

// relay turns classifier segments into events and checkpoints. finalIdx
// tracks the in-progress final assistant message within conv.Messages.
func (s *ChatService) relay(segs []segment, conv *models.Conversation, thinkBuf *strings.Builder, finalIdx *int, emit func(Event)) error {
	for _, seg := range segs {
		switch seg.kind {
		case segmentThinkStart:
			emit(Event{Type: EventThinkStart})

		case segmentThink:
			emit(Event{Type: EventThink, Content: seg.content})
			thinkBuf.WriteString(seg.content)

		case segmentThinkEnd:
			emit(Event{Type: EventThinkEnd})
			conv.Messages = append(conv.Messages, models.Message{
				Role:    models.RoleAssistant,
				Type:    models.MessageTypeThinking,
				Content: thinkBuf.String(),
			})
			thinkBuf.Reset()
			if err := s.store.Save(conv); err != nil {
				return fmt.Errorf("checkpoint reasoning: %w", err)
			}

		case segmentText:
			if *finalIdx < 0 {
				conv.Messages = append(conv.Messages, models.Message{
					Role:    models.RoleAssistant,
					Type:    models.MessageTypeFinal,
					Content: seg.content,
					ID:      uuid.NewString(),
					Loading: true,
				})
				*finalIdx = len(conv.Messages) - 1
			} else {
				conv.Messages[*finalIdx].Content += seg.content
			}
			emit(Event{Type: EventAssistant, Content: seg.content})
			if err := s.store.Save(conv); err != nil {
				return fmt.Errorf("checkpoint reply: %w", err)
			}
		}
	}
	return nil
}

// providerMessages reduces the stored history to provider-facing
// {role, content} pairs. Reasoning segments are never replayed.
func providerMessages(conv *models.Conversation) []ProviderMessage {
	msgs := make([]ProviderMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		if m.Type == models.MessageTypeThinking {
			continue
		}
		msgs = append(msgs, ProviderMessage{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// deriveTitle derives the conversation title from its first user
// message: the message itself when it is five runes or fewer, otherwise
// the first twenty runes with continuation punctuation.
func deriveTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= 5 {
		return message
	}
	if len(runes) > 20 {
		runes = runes[:20]
	}
	return string(runes) + "..."
}
