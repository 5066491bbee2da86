package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
)

// ErrNotOwner возвращается при попытке удалить чужое сообщение.
var ErrNotOwner = errors.New("not message owner")

const messageCols = `id, chat_id, text, image_url, sender_id, sender_name, created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.ChatID, &m.Text, &m.ImageURL, &m.SenderID, &m.SenderName, &m.CreatedAt)
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, text, image_url, sender_id, sender_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ChatID, m.Text, m.ImageURL, m.SenderID, m.SenderName, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListByChat возвращает все сообщения комнаты по возрастанию времени.
// Порядок (created_at, id) — контракт для подписчиков: клиент его не пересортировывает.
func (r *MessageRepository) ListByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE chat_id = $1
		 ORDER BY created_at ASC, id ASC`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByChat query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByChat scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByChat rows: %w", err)
	}
	return messages, nil
}

// DeleteOwn удаляет сообщение, только если requesterID — его отправитель.
// Удаление жёсткое и необратимое; 0 затронутых строк — не владелец или сообщение уже удалено.
func (r *MessageRepository) DeleteOwn(ctx context.Context, id, requesterID string) error {
	defer logger.DeferLogDuration("msg.DeleteOwn", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM messages WHERE id = $1 AND sender_id = $2`, id, requesterID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteOwn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Различаем «нет сообщения» и «не владелец» — оба без мутации.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrNotOwner
	}
	return nil
}
