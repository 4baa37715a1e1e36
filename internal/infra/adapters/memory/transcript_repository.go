package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/qrave1/LiveClass/internal/domain/models"
)

// TranscriptRepository - журнал подтверждённых сообщений в памяти процесса.
// Используется, когда postgres не настроен.
type TranscriptRepository struct {
	bySession map[string][]models.ChatMessage
	seen      map[string]struct{}

	mu sync.RWMutex
}

func NewTranscriptRepository() *TranscriptRepository {
	return &TranscriptRepository{
		bySession: make(map[string][]models.ChatMessage),
		seen:      make(map[string]struct{}),
	}
}

// Save идемпотентен по ID сообщения
func (r *TranscriptRepository) Save(_ context.Context, sessionID string, msg models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionID + "/" + msg.ID
	if _, ok := r.seen[key]; ok {
		return nil
	}

	r.seen[key] = struct{}{}
	r.bySession[sessionID] = append(r.bySession[sessionID], msg)

	return nil
}

func (r *TranscriptRepository) List(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.bySession[sessionID]), nil
}
