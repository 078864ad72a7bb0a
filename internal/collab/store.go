package collab

import (
	"context"
	"errors"
	"time"
)

// ErrNotExist is returned by stores for unknown session ids.
var ErrNotExist = errors.New("does not exist")

// Store is the write-through persistence behind a room. Implementations must
// be safe for concurrent use; rooms call them from their own goroutines.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	UpdateSessionState(ctx context.Context, id string, fields map[string]string, status Status, lastActivityAt time.Time) error
	UpdateSettings(ctx context.Context, id string, settings Settings) error

	UpsertParticipant(ctx context.Context, sessionID string, p Participant) error
	RemoveParticipant(ctx context.Context, sessionID, userID string) error

	InsertComment(ctx context.Context, sessionID string, c Comment) error
	UpdateComment(ctx context.Context, sessionID string, c Comment) error
	DeleteComment(ctx context.Context, sessionID, commentID string) error
	InsertReply(ctx context.Context, sessionID, commentID string, reply Reply) error

	AppendVersion(ctx context.Context, sessionID string, v Version) error

	Ping(ctx context.Context) error
}
