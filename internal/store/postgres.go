package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"atelier/api/internal/collab"
	"atelier/api/internal/rbac"
)

// PostgresStore is the durable side of the write-through persistence model.
// Rooms own the live state; every accepted mutation lands here.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *collab.Session) error {
	settings, err := json.Marshal(session.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	fields, err := json.Marshal(session.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, name, description, artifact_type, creator_id, settings, fields, status, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, session.ID, session.Name, session.Description, session.ArtifactType, session.CreatorID,
		settings, fields, string(session.Status), session.CreatedAt, session.LastActivityAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, p := range session.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participants (session_id, user_id, username, role, joined_at)
			VALUES ($1, $2, $3, $4, $5)
		`, session.ID, p.UserID, p.Username, string(p.Role), p.JoinedAt); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*collab.Session, error) {
	session, err := s.scanSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadParticipants(ctx, session); err != nil {
		return nil, err
	}
	if err := s.loadComments(ctx, session); err != nil {
		return nil, err
	}
	if err := s.loadVersions(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *PostgresStore) scanSession(ctx context.Context, id string) (*collab.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, artifact_type, creator_id, settings, fields, status, created_at, last_activity_at
		FROM sessions WHERE id = $1
	`, id)

	var session collab.Session
	var settings, fields []byte
	var status string
	err := row.Scan(&session.ID, &session.Name, &session.Description, &session.ArtifactType,
		&session.CreatorID, &settings, &fields, &status, &session.CreatedAt, &session.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, collab.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	session.Status = collab.Status(status)
	if err := json.Unmarshal(settings, &session.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	session.Fields = map[string]string{}
	if err := json.Unmarshal(fields, &session.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return &session, nil
}

func (s *PostgresStore) loadParticipants(ctx context.Context, session *collab.Session) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, role, joined_at
		FROM participants WHERE session_id = $1 ORDER BY joined_at
	`, session.ID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	session.Participants = []collab.Participant{}
	for rows.Next() {
		var p collab.Participant
		var role string
		if err := rows.Scan(&p.UserID, &p.Username, &role, &p.JoinedAt); err != nil {
			return fmt.Errorf("scan participant: %w", err)
		}
		p.Role = rbac.Role(role)
		session.Participants = append(session.Participants, p)
	}
	return rows.Err()
}

func (s *PostgresStore) loadComments(ctx context.Context, session *collab.Session) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author_id, author_name, type, content, resolved, resolved_by, created_at
		FROM comments WHERE session_id = $1 ORDER BY created_at
	`, session.ID)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	session.Comments = []collab.Comment{}
	index := map[string]int{}
	for rows.Next() {
		var c collab.Comment
		if err := rows.Scan(&c.ID, &c.AuthorID, &c.AuthorName, &c.Type, &c.Content, &c.Resolved, &c.ResolvedBy, &c.CreatedAt); err != nil {
			return fmt.Errorf("scan comment: %w", err)
		}
		c.SessionID = session.ID
		c.Replies = []collab.Reply{}
		index[c.ID] = len(session.Comments)
		session.Comments = append(session.Comments, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	replyRows, err := s.db.QueryContext(ctx, `
		SELECT r.comment_id, r.id, r.author_id, r.author_name, r.content, r.created_at
		FROM replies r
		JOIN comments c ON c.id = r.comment_id
		WHERE c.session_id = $1
		ORDER BY r.created_at
	`, session.ID)
	if err != nil {
		return fmt.Errorf("list replies: %w", err)
	}
	defer replyRows.Close()

	for replyRows.Next() {
		var commentID string
		var reply collab.Reply
		if err := replyRows.Scan(&commentID, &reply.ID, &reply.AuthorID, &reply.AuthorName, &reply.Content, &reply.CreatedAt); err != nil {
			return fmt.Errorf("scan reply: %w", err)
		}
		if i, ok := index[commentID]; ok {
			session.Comments[i].Replies = append(session.Comments[i].Replies, reply)
		}
	}
	return replyRows.Err()
}

func (s *PostgresStore) loadVersions(ctx context.Context, session *collab.Session) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_number, fields, saved_by, changes_summary, created_at
		FROM versions WHERE session_id = $1 ORDER BY version_number
	`, session.ID)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	session.Versions = []collab.Version{}
	for rows.Next() {
		var v collab.Version
		var fields []byte
		if err := rows.Scan(&v.VersionNumber, &fields, &v.SavedByID, &v.ChangesSummary, &v.Timestamp); err != nil {
			return fmt.Errorf("scan version: %w", err)
		}
		v.Fields = map[string]string{}
		if err := json.Unmarshal(fields, &v.Fields); err != nil {
			return fmt.Errorf("unmarshal version fields: %w", err)
		}
		session.Versions = append(session.Versions, v)
	}
	return rows.Err()
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]*collab.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions ORDER BY last_activity_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sessions := make([]*collab.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return collab.ErrNotExist
	}
	return nil
}

func (s *PostgresStore) UpdateSessionState(ctx context.Context, id string, fields map[string]string, status collab.Status, lastActivityAt time.Time) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET fields = $2, status = $3, last_activity_at = $4 WHERE id = $1
	`, id, encoded, string(status), lastActivityAt)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return collab.ErrNotExist
	}
	return nil
}

func (s *PostgresStore) UpdateSettings(ctx context.Context, id string, settings collab.Settings) error {
	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET settings = $2 WHERE id = $1
	`, id, encoded)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return collab.ErrNotExist
	}
	return nil
}

func (s *PostgresStore) UpsertParticipant(ctx context.Context, sessionID string, p collab.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (session_id, user_id, username, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, user_id)
		DO UPDATE SET username = EXCLUDED.username, role = EXCLUDED.role
	`, sessionID, p.UserID, p.Username, string(p.Role), p.JoinedAt)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveParticipant(ctx context.Context, sessionID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM participants WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, sessionID string, c collab.Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, session_id, author_id, author_name, type, content, resolved, resolved_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, sessionID, c.AuthorID, c.AuthorName, c.Type, c.Content, c.Resolved, c.ResolvedBy, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, sessionID string, c collab.Comment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET content = $3, resolved = $4, resolved_by = $5
		WHERE id = $1 AND session_id = $2
	`, c.ID, sessionID, c.Content, c.Resolved, c.ResolvedBy)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return collab.ErrNotExist
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, sessionID, commentID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM comments WHERE id = $1 AND session_id = $2
	`, commentID, sessionID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return collab.ErrNotExist
	}
	return nil
}

func (s *PostgresStore) InsertReply(ctx context.Context, sessionID, commentID string, reply collab.Reply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replies (id, comment_id, author_id, author_name, content, created_at)
		SELECT $1, c.id, $3, $4, $5, $6 FROM comments c WHERE c.id = $2 AND c.session_id = $7
	`, reply.ID, commentID, reply.AuthorID, reply.AuthorName, reply.Content, reply.CreatedAt, sessionID)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendVersion(ctx context.Context, sessionID string, v collab.Version) error {
	encoded, err := json.Marshal(v.Fields)
	if err != nil {
		return fmt.Errorf("marshal version fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO versions (session_id, version_number, fields, saved_by, changes_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sessionID, v.VersionNumber, encoded, v.SavedByID, v.ChangesSummary, v.Timestamp)
	if err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
