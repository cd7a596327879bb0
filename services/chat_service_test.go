package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/thinkchat/thinkchat/internal/models"
	"github.com/thinkchat/thinkchat/store"
)

type stubStream struct {
	fragments []string
	pos       int
	finalErr  error
}

func (s *stubStream) Recv() (string, error) {
	if s.pos < len(s.fragments) {
		fragment := s.fragments[s.pos]
		s.pos++
		return fragment, nil
	}
	if s.finalErr != nil {
		return "", s.finalErr
	}
	return "", io.EOF
}

func (s *stubStream) Close() error { return nil }

type stubProvider struct {
	fragments []string
	finalErr  error
	openErr   error

	gotParams   ProviderParams
	gotMessages []ProviderMessage
}

func (p *stubProvider) Stream(_ context.Context, params ProviderParams, messages []ProviderMessage) (CompletionStream, error) {
	p.gotParams = params
	p.gotMessages = messages
	if p.openErr != nil {
		return nil, p.openErr
	}
	return &stubStream{fragments: p.fragments, finalErr: p.finalErr}, nil
}

func newTestService(t *testing.T, provider CompletionProvider) (*ChatService, *store.FileStore) {
	t.Helper()

	st, err := store.NewFileStore(t.TempDir(), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return NewChatService(st, provider, zap.NewNop().Sugar()), st
}

func collectEvents(t *testing.T, svc *ChatService, req ChatRequest) ([]Event, error) {
	t.Helper()

	var events []Event
	err := svc.StreamChat(context.Background(), req, func(ev Event) {
		events = append(events, ev)
	})
	return events, err
}

func baseRequest() ChatRequest {
	return ChatRequest{
		ConversationID: "conv-1",
		Message:        "tell me something interesting",
		APIKey:         "sk-test",
		Model:          "gpt-3.5-turbo",
		Temperature:    0.6,
		TopP:           0.7,
	}
}

func eventTypes(events []Event) []string {
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func TestStreamChatValidation(t *testing.T) {
	svc, _ := newTestService(t, &stubProvider{})

	for _, mutate := range []func(*ChatRequest){
		func(r *ChatRequest) { r.Message = "  " },
		func(r *ChatRequest) { r.ConversationID = "" },
		func(r *ChatRequest) { r.APIKey = "" },
	} {
		req := baseRequest()
		mutate(&req)

		events, err := collectEvents(t, svc, req)
		if !errors.Is(err, ErrMissingParams) {
			t.Fatalf("expected ErrMissingParams, got %v", err)
		}
		if len(events) != 0 {
			t.Fatalf("validation failure must precede streaming, got events %v", events)
		}
	}
}

func TestStreamChatEventOrderAndPersistence(t *testing.T) {
	provider := &stubProvider{fragments: []string{"<think>I ponder", "</think>", "Hello"}}
	svc, st := newTestService(t, provider)

	events, err := collectEvents(t, svc, baseRequest())
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	want := []string{
		EventUser, EventTitleUpdate,
		EventThinkStart, EventThink, EventThinkEnd,
		EventAssistant,
	}
	got := eventTypes(events)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("event order mismatch:\n got %v\nwant %v", got, want)
	}

	conv, err := st.Get("conv-1")
	if err != nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	if len(conv.Messages) != 3 {
		t.Fatalf("expected user+thinking+final messages, got %d", len(conv.Messages))
	}

	thinking := conv.Messages[1]
	if thinking.Type != models.MessageTypeThinking || thinking.Content != "I ponder" {
		t.Fatalf("unexpected thinking message: %+v", thinking)
	}

	final := conv.Messages[2]
	if final.Type != models.MessageTypeFinal || final.Content != "Hello" {
		t.Fatalf("unexpected final message: %+v", final)
	}
	if final.ID == "" {
		t.Fatal("final message should carry a generation id")
	}
	if final.Loading {
		t.Fatal("loading flag should be cleared once the stream ends")
	}
}

func TestStreamChatTitleOnFirstMessageOnly(t *testing.T) {
	provider := &stubProvider{fragments: []string{"sure"}}
	svc, st := newTestService(t, provider)

	req := baseRequest()
	events, err := collectEvents(t, svc, req)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if got := eventTypes(events); got[1] != EventTitleUpdate {
		t.Fatalf("expected title_update after user event, got %v", got)
	}

	conv, err := st.Get(req.ConversationID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if conv.Title != "tell me something in..." {
		t.Fatalf("unexpected derived title %q", conv.Title)
	}

	// Second turn must not re-derive the title.
	provider.fragments = []string{"again"}
	events, err = collectEvents(t, svc, req)
	if err != nil {
		t.Fatalf("second stream failed: %v", err)
	}
	for _, ev := range events {
		if ev.Type == EventTitleUpdate {
			t.Fatal("title_update emitted on a non-first message")
		}
	}
}

func TestStreamChatUnclosedThinkIsNotFlushed(t *testing.T) {
	provider := &stubProvider{fragments: []string{"<think>half a ", "thought"}}
	svc, st := newTestService(t, provider)

	events, err := collectEvents(t, svc, baseRequest())
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var thinks int
	for _, ev := range events {
		switch ev.Type {
		case EventThink:
			thinks++
		case EventThinkEnd:
			t.Fatal("think_end emitted without a close marker")
		}
	}
	if thinks == 0 {
		t.Fatal("reasoning fragments must still stream as think events")
	}

	conv, err := st.Get("conv-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	for _, msg := range conv.Messages {
		if msg.Type == models.MessageTypeThinking {
			t.Fatalf("unclosed reasoning segment was flushed to storage: %+v", msg)
		}
	}
}

func TestStreamChatExcludesThinkingFromProviderContext(t *testing.T) {
	provider := &stubProvider{fragments: []string{"ok"}}
	svc, st := newTestService(t, provider)

	seed := &models.Conversation{
		ID:        "conv-1",
		Title:     "seeded",
		Timestamp: 1,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "q1"},
			{Role: models.RoleAssistant, Type: models.MessageTypeThinking, Content: "secret"},
			{Role: models.RoleAssistant, Type: models.MessageTypeFinal, Content: "a1"},
		},
	}
	if err := st.Save(seed); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	req := baseRequest()
	req.Message = "q2"
	if _, err := collectEvents(t, svc, req); err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	want := []ProviderMessage{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	}
	if len(provider.gotMessages) != len(want) {
		t.Fatalf("provider context mismatch: %v", provider.gotMessages)
	}
	for i, msg := range want {
		if provider.gotMessages[i] != msg {
			t.Fatalf("provider message %d = %+v, want %+v", i, provider.gotMessages[i], msg)
		}
	}
}

func TestStreamChatBenignTruncationEndsQuietly(t *testing.T) {
	provider := &stubProvider{
		fragments: []string{"partial answer"},
		finalErr:  errors.New("http2: incomplete chunked read"),
	}
	svc, st := newTestService(t, provider)

	events, err := collectEvents(t, svc, baseRequest())
	if err != nil {
		t.Fatalf("benign truncation should not surface an error, got %v", err)
	}
	for _, ev := range events {
		if ev.Type == EventError {
			t.Fatalf("benign truncation emitted an error event: %+v", ev)
		}
	}

	conv, err := st.Get("conv-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Content != "partial answer" {
		t.Fatalf("partial output not checkpointed: %+v", last)
	}
}

func TestStreamChatProviderFailureEmitsErrorEvent(t *testing.T) {
	provider := &stubProvider{
		fragments: []string{"so far"},
		finalErr:  errors.New("upstream exploded"),
	}
	svc, _ := newTestService(t, provider)

	events, err := collectEvents(t, svc, baseRequest())
	if err == nil {
		t.Fatal("expected the provider failure to be returned")
	}

	var sawError bool
	for _, ev := range events {
		if ev.Type == EventError && strings.Contains(ev.Content, "upstream exploded") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected an error event, got %v", events)
	}
}

func TestStreamChatOpenFailureEmitsErrorEvent(t *testing.T) {
	provider := &stubProvider{openErr: errors.New("connection refused")}
	svc, st := newTestService(t, provider)

	events, err := collectEvents(t, svc, baseRequest())
	if err == nil {
		t.Fatal("expected the open failure to be returned")
	}
	got := eventTypes(events)
	if got[len(got)-1] != EventError {
		t.Fatalf("expected a trailing error event, got %v", got)
	}

	// The user turn was checkpointed before the provider call.
	conv, err := st.Get("conv-1")
	if err != nil {
		t.Fatalf("user turn not persisted: %v", err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Role != models.RoleUser {
		t.Fatalf("expected the lone user turn, got %+v", conv.Messages)
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hi", "hi"},
		{"12345", "12345"},
		{"123456", "123456..."},
		{"aaaaaaaaaabbbbbbbbbbc", "aaaaaaaaaabbbbbbbbbb..."},
		{"短消息", "短消息"},
	}
	for _, tc := range cases {
		if got := deriveTitle(tc.in); got != tc.want {
			t.Errorf("deriveTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
