package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thinkchat/thinkchat/internal/models"
)

const defaultTitle = "New Chat"

var (
	// ErrNotFound is returned when no record exists for the identifier.
	ErrNotFound = errors.New("conversation not found")
	// ErrNotUserMessage is returned when the last stored message is not a user message.
	ErrNotUserMessage = errors.New("no user message to edit")
)

// FileStore persists one JSON record per conversation under dir.
// Every mutation rewrites the whole record.
type FileStore struct {
	dir    string
	logger *zap.SugaredLogger
	mu     sync.Mutex
}

func NewFileStore(dir string, logger *zap.SugaredLogger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("store: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// List returns every readable conversation, newest first. Records that
// fail to load are logged and skipped so one corrupt file cannot break
// the listing.
func (s *FileStore) List() ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	conversations := make([]models.Conversation, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		conv, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warnf("skipping conversation record %s: %v", entry.Name(), err)
			continue
		}
		conversations = append(conversations, *conv)
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].Timestamp > conversations[j].Timestamp
	})

	return conversations, nil
}

func (s *FileStore) Get(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

// Create persists and returns a fresh empty conversation.
func (s *FileStore) Create() (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		Title:     defaultTitle,
		Timestamp: time.Now().UnixMilli(),
		Messages:  []models.Message{},
	}
	if err := s.Save(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Save rewrites the conversation's record. Write failures propagate to
// the caller, unlike List's per-record read failures.
func (s *FileStore) Save(conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(conv)
}

// Delete removes the record if present; deleting an absent id is a no-op.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.recordPath(id)
	if err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

// DeleteAll removes every record, continuing past individual failures
// and reporting them together.
func (s *FileStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read data dir: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", entry.Name(), err))
		}
	}

	return errors.Join(errs...)
}

func (s *FileStore) Rename(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.get(id)
	if err != nil {
		return err
	}
	conv.Title = title
	return s.save(conv)
}

// EditLastUserMessage replaces the content of the trailing user message.
// The stored record is left untouched when the last message belongs to
// the assistant.
func (s *FileStore) EditLastUserMessage(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.get(id)
	if err != nil {
		return err
	}

	last := conv.LastMessage()
	if last == nil || last.Role != models.RoleUser {
		return ErrNotUserMessage
	}
	last.Content = content
	return s.save(conv)
}

func (s *FileStore) get(id string) (*models.Conversation, error) {
	path, err := s.recordPath(id)
	if err != nil {
		return nil, err
	}
	conv, err := s.read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conv, nil
}

func (s *FileStore) read(path string) (*models.Conversation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read record: %w", err)
	}

	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	return &conv, nil
}

func (s *FileStore) save(conv *models.Conversation) error {
	path, err := s.recordPath(conv.ID)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	raw, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write conversation %s: %w", conv.ID, err)
	}
	return nil
}

// recordPath maps an identifier to its file. Identifiers are used as
// file names, so anything that could escape the data directory is
// treated as an unknown record.
func (s *FileStore) recordPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", ErrNotFound
	}
	return filepath.Join(s.dir, id+".json"), nil
}
