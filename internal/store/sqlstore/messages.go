package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/inbox/internal/models"
	"github.com/pliu/inbox/internal/store"
)

const messageSelect = `
	SELECT m.id, m.seq, m.content, m.is_notified, m.is_read, m.created_at,
		uf.id, uf.username, uf.display_name,
		ut.id, ut.username, ut.display_name
	FROM messages m
	JOIN users uf ON uf.id = m.user_from
	JOIN users ut ON ut.id = m.user_to
`

func (s *SQLStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Created.IsZero() {
		msg.Created = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(`
		INSERT INTO messages (id, user_from, user_to, content, is_notified, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`)
	err = tx.QueryRowContext(ctx, query, msg.ID, msg.UserFrom.ID, msg.UserTo.ID, msg.Content, msg.Notified, msg.Read, msg.Created).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	// A transaction holding an older seq may commit last; it must not
	// replace a newer latest message.
	query = s.rebind(`
		INSERT INTO threads (id, user_from, user_to, message_id, message_seq, is_read, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_from = excluded.user_from,
			user_to = excluded.user_to,
			message_id = excluded.message_id,
			message_seq = excluded.message_seq,
			is_read = excluded.is_read,
			updated_at = excluded.updated_at
		WHERE threads.message_seq < excluded.message_seq
	`)
	_, err = tx.ExecContext(ctx, query, store.PairKey(msg.UserFrom.ID, msg.UserTo.ID), msg.UserFrom.ID, msg.UserTo.ID, msg.ID, msg.Seq, msg.Read, msg.Created)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) GetThreadMessages(ctx context.Context, userID, otherID string, offset, limit int) ([]models.Message, error) {
	query := s.rebind(messageSelect + `
		WHERE (m.user_from = ? AND m.user_to = ?) OR (m.user_from = ? AND m.user_to = ?)
		ORDER BY m.seq DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := s.db.QueryContext(ctx, query, userID, otherID, otherID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func (s *SQLStore) GetUserThreads(ctx context.Context, userID string, offset, limit int) ([]models.Thread, error) {
	query := s.rebind(`
		SELECT t.id, t.is_read, t.updated_at, m.id, m.content,
			uf.id, uf.username, uf.display_name,
			ut.id, ut.username, ut.display_name
		FROM threads t
		JOIN messages m ON m.id = t.message_id
		JOIN users uf ON uf.id = t.user_from
		JOIN users ut ON ut.id = t.user_to
		WHERE t.user_from = ? OR t.user_to = ?
		ORDER BY t.message_seq DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := s.db.QueryContext(ctx, query, userID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := []models.Thread{}
	for rows.Next() {
		var t models.Thread
		if err := rows.Scan(&t.ID, &t.Read, &t.Updated, &t.Message.ID, &t.Message.Content,
			&t.UserFrom.ID, &t.UserFrom.Username, &t.UserFrom.DisplayName,
			&t.UserTo.ID, &t.UserTo.Username, &t.UserTo.DisplayName); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (s *SQLStore) MarkRead(ctx context.Context, userID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	args := make([]interface{}, 0, len(messageIDs)+1)
	args = append(args, userID)
	for _, id := range messageIDs {
		args = append(args, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := s.rebind("UPDATE messages SET is_read = TRUE WHERE user_to = ? AND is_read = FALSE AND id IN (" + inClause(len(messageIDs)) + ")")
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	query = s.rebind("UPDATE threads SET is_read = TRUE WHERE user_to = ? AND message_id IN (" + inClause(len(messageIDs)) + ")")
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, err
	}

	return n, tx.Commit()
}

func (s *SQLStore) GetUnnotifiedMessages(ctx context.Context, before time.Time) ([]models.Message, error) {
	query := s.rebind(messageSelect + `
		WHERE m.is_notified = FALSE AND m.is_read = FALSE AND m.created_at < ?
		ORDER BY m.seq ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, before.UTC())
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func (s *SQLStore) MarkNotified(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	args := make([]interface{}, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	query := s.rebind("UPDATE messages SET is_notified = TRUE WHERE id IN (" + inClause(len(messageIDs)) + ")")
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Seq, &m.Content, &m.Notified, &m.Read, &m.Created,
			&m.UserFrom.ID, &m.UserFrom.Username, &m.UserFrom.DisplayName,
			&m.UserTo.ID, &m.UserTo.Username, &m.UserTo.DisplayName); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
