package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"shopchat/internal/models"
)

// userLock returns the mutex serializing session creation for one user.
// Two concurrent first messages must not create two sessions.
func (s *Service) userLock(userID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.userLocks[userID]
	if !ok {
		lk = &sync.Mutex{}
		s.userLocks[userID] = lk
	}
	return lk
}

// GetOrCreateCurrentSession returns the user's most recently created
// session, creating one if none exists.
func (s *Service) GetOrCreateCurrentSession(ctx context.Context, userID int64) (*models.Session, error) {
	lk := s.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at FROM sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID,
	).Scan(&session.ID, &session.UserID, &session.CreatedAt)
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup current session: %w", err)
	}
	return s.createSession(ctx, userID)
}

// StartNewSession unconditionally creates a fresh session, which becomes
// the current one for subsequent implicit turns.
func (s *Service) StartNewSession(ctx context.Context, userID int64) (*models.Session, error) {
	lk := s.userLock(userID)
	lk.Lock()
	defer lk.Unlock()
	return s.createSession(ctx, userID)
}

func (s *Service) createSession(ctx context.Context, userID int64) (*models.Session, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, created_at) VALUES (?, ?)`,
		userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &models.Session{ID: id, UserID: userID, CreatedAt: now}, nil
}

// GetSession returns the session only if owned by the user; a miss or an
// ownership mismatch both surface as sql.ErrNoRows so session ids cannot
// be probed across users.
func (s *Service) GetSession(ctx context.Context, userID, sessionID int64) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at FROM sessions WHERE id = ? AND user_id = ?`,
		sessionID, userID,
	).Scan(&session.ID, &session.UserID, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// AppendMessage stores an immutable message with a server-assigned
// timestamp and returns the stored row.
func (s *Service) AppendMessage(ctx context.Context, sessionID int64, sender models.Role, content string) (*models.Message, error) {
	if sessionID <= 0 {
		return nil, errors.New("session_id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, sender, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, sender, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	return &models.Message{ID: id, SessionID: sessionID, Sender: sender, Content: content, CreatedAt: now}, nil
}

// ListSessions returns the user's sessions, most recent first.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, created_at FROM sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var se models.Session
		if err := rows.Scan(&se.ID, &se.UserID, &se.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, se)
	}
	return sessions, rows.Err()
}

// ListMessages returns the session's messages in insertion order after
// verifying ownership.
func (s *Service) ListMessages(ctx context.Context, userID, sessionID int64) ([]models.Message, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sender, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
