package collab

import "atelier/api/internal/rbac"

// Command is the closed set of room mutations and queries. Every command for
// a session flows through that session's single inbound queue, so acceptance
// order is total and last-writer-wins is well defined.
//
// Adding a command means adding a struct here and a case in Room.handle;
// the type switch keeps the dispatch compile-checked.
type Command interface {
	isCommand()
}

// Join adds or reactivates a participant record. Approved marks that the
// actor redeemed an invite for sessions requiring approval; Role, when set,
// comes from that invite.
type Join struct {
	UserID   string
	Username string
	Approved bool
	Role     rbac.Role
}

// Leave removes the actor's participant record entirely. Connection-level
// departure is Detach.
type Leave struct {
	UserID string
}

// Attach registers a live connection for an existing participant.
type Attach struct {
	Client Client
}

// Detach unregisters a connection. Transport-level disconnects funnel through
// here, producing the same cleanup as an explicit departure.
type Detach struct {
	ConnID string
}

// SetEditing upserts the actor's advisory editing claim. A user holds at most
// one claim; naming a different field supersedes the previous one.
type SetEditing struct {
	UserID string
	ConnID string
	Field  string
}

type ClearEditing struct {
	UserID string
	ConnID string
}

// ApplyEdit is a whole-field replacement. ClientTimestamp is carried for
// diagnostics only; acceptance order is receipt order.
type ApplyEdit struct {
	UserID          string
	ConnID          string
	Field           string
	Value           string
	ClientTimestamp int64
}

// CursorMove is relayed to other connections without validation beyond
// membership; it never touches session state.
type CursorMove struct {
	UserID   string
	ConnID   string
	Field    string
	Position int
}

type AddComment struct {
	UserID  string
	Type    string
	Content string
}

type UpdateComment struct {
	UserID    string
	CommentID string
	Content   string
}

type DeleteComment struct {
	UserID    string
	CommentID string
}

type ResolveComment struct {
	UserID    string
	CommentID string
}

type AddReply struct {
	UserID    string
	CommentID string
	Content   string
}

// SaveVersion is the manual snapshot; it bypasses the autosave debounce.
type SaveVersion struct {
	UserID  string
	Summary string
}

type RestoreVersion struct {
	UserID        string
	VersionNumber int
}

type UpdateSettings struct {
	UserID   string
	Settings Settings
}

type ChangeRole struct {
	UserID   string
	TargetID string
	Role     rbac.Role
}

type RemoveParticipant struct {
	UserID   string
	TargetID string
}

type Pause struct {
	UserID string
}

type Resume struct {
	UserID string
}

type Publish struct {
	UserID string
}

type DeleteSession struct {
	UserID string
}

// GetSnapshot returns a deep copy of the session plus presence state.
type GetSnapshot struct{}

func (Join) isCommand()              {}
func (Leave) isCommand()             {}
func (Attach) isCommand()            {}
func (Detach) isCommand()            {}
func (SetEditing) isCommand()        {}
func (ClearEditing) isCommand()      {}
func (ApplyEdit) isCommand()         {}
func (CursorMove) isCommand()        {}
func (AddComment) isCommand()        {}
func (UpdateComment) isCommand()     {}
func (DeleteComment) isCommand()     {}
func (ResolveComment) isCommand()    {}
func (AddReply) isCommand()          {}
func (SaveVersion) isCommand()       {}
func (RestoreVersion) isCommand()    {}
func (UpdateSettings) isCommand()    {}
func (ChangeRole) isCommand()        {}
func (RemoveParticipant) isCommand() {}
func (Pause) isCommand()             {}
func (Resume) isCommand()            {}
func (Publish) isCommand()           {}
func (DeleteSession) isCommand()     {}
func (GetSnapshot) isCommand()       {}
