package usecase

import (
	"sync"
	"time"

	"github.com/qrave1/LiveClass/internal/domain/models"
)

// ChatOutcome - что случилось с входящим сообщением
type ChatOutcome string

const (
	ChatAppended  ChatOutcome = "appended"
	ChatReplaced  ChatOutcome = "replaced"
	ChatDuplicate ChatOutcome = "duplicate"
)

// ChatLog - упорядоченный лог чата с дедупликацией оптимистичных копий.
//
// Подтверждённое сервером сообщение сначала вытесняет совпадающие оптимистичные записи
// (тот же отправитель, тот же текст, разница времени не больше window), затем
// отбрасывается, если в логе уже есть запись с тем же ID, иначе добавляется в конец.
// Порядок подтверждённых записей всегда равен порядку получения.
type ChatLog struct {
	window time.Duration

	entries []models.ChatMessage
	mu      sync.RWMutex
}

func NewChatLog(window time.Duration) *ChatLog {
	return &ChatLog{window: window}
}

// AddOptimistic показывает отправленное сообщение до эха сервера
func (l *ChatLog) AddOptimistic(msg models.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg.ID = ""
	l.entries = append(l.entries, msg)
}

// Receive применяет подтверждённое сообщение
func (l *ChatLog) Receive(msg models.ChatMessage) ChatOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.receive(msg)
}

// Merge применяет пачку сообщений (бэклог при входе) тем же алгоритмом
func (l *ChatLog) Merge(msgs []models.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, msg := range msgs {
		l.receive(msg)
	}
}

// Retract убирает оптимистичную запись, если отправка не удалась
func (l *ChatLog) Retract(localID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.IsOptimistic() && e.LocalID == localID {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}

	return false
}

func (l *ChatLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
}

func (l *ChatLog) Messages() []models.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.ChatMessage, len(l.entries))
	copy(out, l.entries)

	return out
}

func (l *ChatLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.entries)
}

func (l *ChatLog) receive(msg models.ChatMessage) ChatOutcome {
	// Запись без постоянного ID (например, в бэклоге) ведёт себя как оптимистичная
	if msg.IsOptimistic() {
		for _, e := range l.entries {
			if l.matches(e, msg) {
				return ChatDuplicate
			}
		}

		l.entries = append(l.entries, msg)
		return ChatAppended
	}

	removed := 0
	kept := l.entries[:0]

	for _, e := range l.entries {
		if e.IsOptimistic() && l.matches(e, msg) {
			removed++
			continue
		}

		kept = append(kept, e)
	}

	// хвост обнуляем, чтобы не держать ссылки на удалённые записи
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = models.ChatMessage{}
	}

	l.entries = kept

	for _, e := range l.entries {
		if e.ID == msg.ID {
			return ChatDuplicate
		}
	}

	msg.LocalID = ""
	l.entries = append(l.entries, msg)

	if removed > 0 {
		return ChatReplaced
	}

	return ChatAppended
}

func (l *ChatLog) matches(a, b models.ChatMessage) bool {
	if a.SenderID != b.SenderID || a.Text != b.Text {
		return false
	}

	dt := a.Timestamp.Sub(b.Timestamp)
	if dt < 0 {
		dt = -dt
	}

	return dt <= l.window
}
