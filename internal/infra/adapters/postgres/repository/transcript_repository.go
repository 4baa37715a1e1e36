package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qrave1/LiveClass/internal/domain/models"
)

type TranscriptRepository interface {
	Save(ctx context.Context, sessionID string, msg models.ChatMessage) error
	List(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
}

type transcriptRow struct {
	SessionID  string    `db:"session_id"`
	MessageID  string    `db:"message_id"`
	SenderID   string    `db:"sender_id"`
	SenderName string    `db:"sender_name"`
	SenderRole string    `db:"sender_role"`
	Body       string    `db:"body"`
	SentAt     time.Time `db:"sent_at"`
}

type transcriptRepo struct {
	db *sqlx.DB
}

func NewTranscriptRepo(db *sqlx.DB) TranscriptRepository {
	return &transcriptRepo{db: db}
}

// Save не перезаписывает уже сохранённое сообщение: повтор с тем же ID игнорируется
func (r *transcriptRepo) Save(ctx context.Context, sessionID string, msg models.ChatMessage) error {
	_, err := r.db.NamedExecContext(
		ctx,
		`INSERT INTO chat_transcript (session_id, message_id, sender_id, sender_name, sender_role, body, sent_at)
		VALUES (:session_id, :message_id, :sender_id, :sender_name, :sender_role, :body, :sent_at)
		ON CONFLICT (session_id, message_id) DO NOTHING`,
		transcriptRow{
			SessionID:  sessionID,
			MessageID:  msg.ID,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			SenderRole: string(msg.SenderRole),
			Body:       msg.Text,
			SentAt:     msg.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("insert chat message %s: %w", msg.ID, err)
	}

	return nil
}

func (r *transcriptRepo) List(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	var rows []transcriptRow

	err := r.db.SelectContext(
		ctx,
		&rows,
		`SELECT session_id, message_id, sender_id, sender_name, sender_role, body, sent_at
		FROM chat_transcript
		WHERE session_id = $1
		ORDER BY sent_at, message_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("select chat transcript: %w", err)
	}

	messages := make([]models.ChatMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, models.ChatMessage{
			ID:         row.MessageID,
			SenderID:   row.SenderID,
			SenderName: row.SenderName,
			SenderRole: models.Role(row.SenderRole),
			Text:       row.Body,
			Timestamp:  row.SentAt.UTC(),
		})
	}

	return messages, nil
}
