package collab

import (
	"context"
	"testing"
	"time"

	"atelier/api/internal/rbac"
)

// fakeStore implements Store with overridable behavior per method. The zero
// value accepts every write and holds no sessions.
type fakeStore struct {
	CreateSessionFn      func(ctx context.Context, session *Session) error
	GetSessionFn         func(ctx context.Context, id string) (*Session, error)
	UpdateSessionStateFn func(ctx context.Context, id string, fields map[string]string, status Status, lastActivityAt time.Time) error
	AppendVersionFn      func(ctx context.Context, id string, version Version) error
	DeleteSessionFn      func(ctx context.Context, id string) error
	UpsertParticipantFn  func(ctx context.Context, id string, participant Participant) error
}

func (f *fakeStore) CreateSession(ctx context.Context, session *Session) error {
	if f.CreateSessionFn != nil {
		return f.CreateSessionFn(ctx, session)
	}
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if f.GetSessionFn != nil {
		return f.GetSessionFn(ctx, id)
	}
	return nil, ErrNotExist
}

func (f *fakeStore) ListSessions(ctx context.Context) ([]*Session, error) { return nil, nil }

func (f *fakeStore) DeleteSession(ctx context.Context, id string) error {
	if f.DeleteSessionFn != nil {
		return f.DeleteSessionFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) UpdateSessionState(ctx context.Context, id string, fields map[string]string, status Status, lastActivityAt time.Time) error {
	if f.UpdateSessionStateFn != nil {
		return f.UpdateSessionStateFn(ctx, id, fields, status, lastActivityAt)
	}
	return nil
}

func (f *fakeStore) UpdateSettings(ctx context.Context, id string, settings Settings) error {
	return nil
}

func (f *fakeStore) UpsertParticipant(ctx context.Context, id string, participant Participant) error {
	if f.UpsertParticipantFn != nil {
		return f.UpsertParticipantFn(ctx, id, participant)
	}
	return nil
}

func (f *fakeStore) RemoveParticipant(ctx context.Context, id, userID string) error { return nil }

func (f *fakeStore) InsertComment(ctx context.Context, id string, comment Comment) error { return nil }

func (f *fakeStore) UpdateComment(ctx context.Context, id string, comment Comment) error { return nil }

func (f *fakeStore) DeleteComment(ctx context.Context, id, commentID string) error { return nil }

func (f *fakeStore) InsertReply(ctx context.Context, id, commentID string, reply Reply) error {
	return nil
}

func (f *fakeStore) AppendVersion(ctx context.Context, id string, version Version) error {
	if f.AppendVersionFn != nil {
		return f.AppendVersionFn(ctx, id, version)
	}
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

// fakeClient records every envelope it is handed.
type fakeClient struct {
	id       string
	userID   string
	username string
	events   []Envelope
}

func (c *fakeClient) ID() string            { return c.id }
func (c *fakeClient) UserID() string        { return c.userID }
func (c *fakeClient) Username() string      { return c.username }
func (c *fakeClient) Deliver(env Envelope) { c.events = append(c.events, env) }
func (c *fakeClient) eventNames() []string {
	names := make([]string, 0, len(c.events))
	for _, env := range c.events {
		names = append(names, env.Event)
	}
	return names
}

// fakeClock is a settable time source for room tests.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time          { return c.current }
func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

// newTestRoom builds an unstarted room whose handlers run synchronously in
// the test goroutine.
func newTestRoom(t *testing.T, store *fakeStore) (*Room, *fakeClock) {
	t.Helper()
	session := &Session{
		ID:           "sess_test",
		Name:         "Test Session",
		ArtifactType: "STORY",
		CreatorID:    "owner",
		Participants: []Participant{
			{UserID: "owner", Username: "Owner", Role: rbac.RoleOwner},
		},
		Settings: DefaultSettings(),
		Fields:   map[string]string{},
		Status:   StatusActive,
	}
	room := newRoom(session, store, 5*time.Second)
	room.ticker = time.NewTicker(time.Hour)
	t.Cleanup(room.ticker.Stop)

	clock := &fakeClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	room.now = clock.now
	return room, clock
}

func mustHandle(t *testing.T, room *Room, cmd Command) any {
	t.Helper()
	value, err := room.handle(cmd)
	if err != nil {
		t.Fatalf("%T failed: %v", cmd, err)
	}
	return value
}

func joinAs(t *testing.T, room *Room, userID, username string, role rbac.Role) {
	t.Helper()
	mustHandle(t, room, Join{UserID: userID, Username: username, Role: role})
}

func attach(t *testing.T, room *Room, connID, userID, username string) *fakeClient {
	t.Helper()
	client := &fakeClient{id: connID, userID: userID, username: username}
	mustHandle(t, room, Attach{Client: client})
	return client
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (%v)", got, kind, err)
	}
}
