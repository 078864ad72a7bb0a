package collab

import (
	"context"
	"log"
	"sync"
	"time"
)

const persistTimeout = 5 * time.Second

type envelope struct {
	cmd   Command
	reply chan result
}

type result struct {
	value any
	err   error
}

// Room is the single serializing owner of one session. All mutating
// operations are handled to completion, in arrival order, by the run
// goroutine; "last writer" means last accepted here.
type Room struct {
	id       string
	store    Store
	now      func() time.Time
	debounce time.Duration

	inbound  chan envelope
	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}

	// Owned by the run goroutine.
	session      *Session
	clients      map[string]Client
	connCount    map[string]int
	claims       map[string]EditingClaim
	dirty        bool
	lastEditAt   time.Time
	lastEditorID string
	ticker       *time.Ticker
}

func newRoom(session *Session, store Store, debounce time.Duration) *Room {
	return &Room{
		id:        session.ID,
		store:     store,
		now:       time.Now,
		debounce:  debounce,
		inbound:   make(chan envelope, 64),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		session:   session,
		clients:   make(map[string]Client),
		connCount: make(map[string]int),
		claims:    make(map[string]EditingClaim),
	}
}

func (r *Room) start() {
	r.ticker = time.NewTicker(r.autoSaveInterval())
	go r.run()
}

// close is safe to call from multiple goroutines; Forget and Shutdown can
// race on the same room.
func (r *Room) close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.stopped
}

// Do submits a command and waits for its outcome. Commands for a closed room
// fail with NotFound, matching a deleted session.
func (r *Room) Do(ctx context.Context, cmd Command) (any, error) {
	env := envelope{cmd: cmd, reply: make(chan result, 1)}
	select {
	case r.inbound <- env:
	case <-r.stopped:
		return nil, notFound("session no longer exists")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-env.reply:
		return res.value, res.err
	case <-r.stopped:
		return nil, notFound("session no longer exists")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot is a typed convenience over Do(GetSnapshot{}).
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	value, err := r.Do(ctx, GetSnapshot{})
	if err != nil {
		return Snapshot{}, err
	}
	return value.(Snapshot), nil
}

func (r *Room) run() {
	defer close(r.stopped)
	defer r.ticker.Stop()
	for {
		select {
		case env := <-r.inbound:
			value, err := r.handle(env.cmd)
			env.reply <- result{value: value, err: err}
			if _, deleted := env.cmd.(DeleteSession); deleted && err == nil {
				return
			}
		case <-r.ticker.C:
			r.autoSaveTick()
		case <-r.stop:
			return
		}
	}
}

func (r *Room) handle(cmd Command) (any, error) {
	switch c := cmd.(type) {
	case Join:
		return r.handleJoin(c)
	case Leave:
		return nil, r.handleLeave(c)
	case Attach:
		return nil, r.handleAttach(c)
	case Detach:
		return nil, r.handleDetach(c)
	case SetEditing:
		return nil, r.handleSetEditing(c)
	case ClearEditing:
		return nil, r.handleClearEditing(c)
	case ApplyEdit:
		return nil, r.handleApplyEdit(c)
	case CursorMove:
		return nil, r.handleCursorMove(c)
	case AddComment:
		return r.handleAddComment(c)
	case UpdateComment:
		return r.handleUpdateComment(c)
	case DeleteComment:
		return nil, r.handleDeleteComment(c)
	case ResolveComment:
		return r.handleResolveComment(c)
	case AddReply:
		return r.handleAddReply(c)
	case SaveVersion:
		return r.handleSaveVersion(c)
	case RestoreVersion:
		return r.handleRestoreVersion(c)
	case UpdateSettings:
		return r.handleUpdateSettings(c)
	case ChangeRole:
		return r.handleChangeRole(c)
	case RemoveParticipant:
		return nil, r.handleRemoveParticipant(c)
	case Pause:
		return nil, r.handleSetStatus(c.UserID, StatusActive, StatusPaused)
	case Resume:
		return nil, r.handleSetStatus(c.UserID, StatusPaused, StatusActive)
	case Publish:
		return r.handlePublish(c)
	case DeleteSession:
		return nil, r.handleDeleteSession(c)
	case GetSnapshot:
		return r.snapshotLocked(), nil
	default:
		return nil, invalidInput("unknown command")
	}
}

func (r *Room) snapshotLocked() Snapshot {
	online := make([]PresenceEntry, 0, len(r.connCount))
	seen := make(map[string]struct{}, len(r.connCount))
	for _, c := range r.clients {
		if _, ok := seen[c.UserID()]; ok {
			continue
		}
		seen[c.UserID()] = struct{}{}
		online = append(online, PresenceEntry{UserID: c.UserID(), Username: c.Username()})
	}
	claims := make([]EditingClaim, 0, len(r.claims))
	for _, claim := range r.claims {
		claims = append(claims, claim)
	}
	return Snapshot{Session: r.session.Clone(), Online: online, Claims: claims}
}

// broadcast fans an event out to connections, optionally skipping the
// originating one so senders are never echoed their own edits.
func (r *Room) broadcast(ev Event, excludeConn string) {
	env := Envelope{Event: ev.EventName(), SessionID: r.id, Data: ev}
	for id, c := range r.clients {
		if id == excludeConn {
			continue
		}
		c.Deliver(env)
	}
}

func (r *Room) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), persistTimeout)
}

// persistState writes the current fields/status through to the store. A
// failure here never rejects an already-accepted mutation; the in-memory
// aggregate stays authoritative and the next write retries.
func (r *Room) persistState() {
	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.UpdateSessionState(ctx, r.id, r.session.Fields, r.session.Status, r.session.LastActivityAt); err != nil {
		log.Printf("collab: session %s: persist state: %v", r.id, err)
	}
}
