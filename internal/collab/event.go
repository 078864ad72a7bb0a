package collab

// Event is the closed set of server-to-client pushes. Each variant knows its
// wire name under the collaboration:* namespace.
type Event interface {
	EventName() string
}

// Envelope is the frame written to a client connection.
type Envelope struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data,omitempty"`
}

type UserJoined struct {
	User Participant `json:"user"`
}

type UserLeft struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type UserEditing struct {
	UserID string `json:"userId"`
	Field  string `json:"field"`
}

type UserStoppedEditing struct {
	UserID string `json:"userId"`
}

type ContentUpdate struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	UserID string `json:"userId"`
}

type CursorUpdate struct {
	UserID   string `json:"userId"`
	Field    string `json:"field"`
	Position int    `json:"position"`
}

type CommentAdded struct {
	Comment Comment `json:"comment"`
}

type CommentUpdated struct {
	Comment Comment `json:"comment"`
}

type CommentDeleted struct {
	CommentID string `json:"commentId"`
}

type CommentResolved struct {
	Comment Comment `json:"comment"`
}

type ReplyAdded struct {
	CommentID string `json:"commentId"`
	Reply     Reply  `json:"reply"`
}

type VersionSaved struct {
	Version VersionMeta `json:"version"`
}

type SettingsUpdated struct {
	Settings Settings `json:"settings"`
}

type StatusChanged struct {
	Status Status `json:"status"`
}

type SessionDeleted struct{}

func (UserJoined) EventName() string         { return "collaboration:user-joined" }
func (UserLeft) EventName() string           { return "collaboration:user-left" }
func (UserEditing) EventName() string        { return "collaboration:user-editing" }
func (UserStoppedEditing) EventName() string { return "collaboration:user-stopped-editing" }
func (ContentUpdate) EventName() string      { return "collaboration:content-update" }
func (CursorUpdate) EventName() string       { return "collaboration:cursor-update" }
func (CommentAdded) EventName() string       { return "collaboration:comment-added" }
func (CommentUpdated) EventName() string     { return "collaboration:comment-updated" }
func (CommentDeleted) EventName() string     { return "collaboration:comment-deleted" }
func (CommentResolved) EventName() string    { return "collaboration:comment-resolved" }
func (ReplyAdded) EventName() string         { return "collaboration:reply-added" }
func (VersionSaved) EventName() string       { return "collaboration:version-saved" }
func (SettingsUpdated) EventName() string    { return "collaboration:settings-updated" }
func (StatusChanged) EventName() string      { return "collaboration:status-changed" }
func (SessionDeleted) EventName() string     { return "collaboration:session-deleted" }

// Client is one delivery target, usually a WebSocket connection. Deliver must
// not block; slow consumers are the transport's problem, not the room's.
type Client interface {
	ID() string
	UserID() string
	Username() string
	Deliver(Envelope)
}
