package collab

import (
	"time"

	"atelier/api/internal/rbac"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Session is the authoritative aggregate for one collaborative artifact.
// While a room is resident its copy of the session is the single source of
// truth; the store is a write-through replica.
type Session struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	ArtifactType   string            `json:"artifactType"`
	CreatorID      string            `json:"creatorId"`
	Participants   []Participant     `json:"participants"`
	Settings       Settings          `json:"settings"`
	Fields         map[string]string `json:"fields"`
	Comments       []Comment         `json:"comments"`
	Versions       []Version         `json:"versions"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
}

type Participant struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Role     rbac.Role `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Settings struct {
	AutoSave           bool   `json:"autoSave"`
	AutoSaveIntervalMS int    `json:"autoSaveIntervalMs"`
	RequireApproval    bool   `json:"requireApproval"`
	DefaultRole        string `json:"defaultRole"`
	MaxParticipants    int    `json:"maxParticipants"`
}

func DefaultSettings() Settings {
	return Settings{
		AutoSave:           true,
		AutoSaveIntervalMS: 30000,
		DefaultRole:        string(rbac.RoleEditor),
		MaxParticipants:    8,
	}
}

// EditingClaim is an advisory marker that a user is focused on a field. It is
// never persisted and never enforced as a lock.
type EditingClaim struct {
	UserID string    `json:"userId"`
	Field  string    `json:"field"`
	Since  time.Time `json:"since"`
}

type Comment struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Resolved   bool      `json:"resolved"`
	ResolvedBy string    `json:"resolvedBy,omitempty"`
	Replies    []Reply   `json:"replies"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Reply struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Version is an immutable full snapshot of session fields. Numbers start at 1
// and are strictly increasing with no gaps.
type Version struct {
	VersionNumber  int               `json:"versionNumber"`
	Fields         map[string]string `json:"fields"`
	SavedByID      string            `json:"savedById"`
	ChangesSummary string            `json:"changesSummary"`
	Timestamp      time.Time         `json:"timestamp"`
}

// VersionMeta is the broadcast shape of a version: everything but the
// snapshot itself.
type VersionMeta struct {
	VersionNumber  int       `json:"versionNumber"`
	SavedByID      string    `json:"savedById"`
	ChangesSummary string    `json:"changesSummary"`
	Timestamp      time.Time `json:"timestamp"`
}

func (v Version) Meta() VersionMeta {
	return VersionMeta{
		VersionNumber:  v.VersionNumber,
		SavedByID:      v.SavedByID,
		ChangesSummary: v.ChangesSummary,
		Timestamp:      v.Timestamp,
	}
}

// PublishPayload is handed to the artifact-persistence collaborators once a
// session transitions to completed.
type PublishPayload struct {
	SessionID    string            `json:"sessionId"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	ArtifactType string            `json:"artifactType"`
	CreatorID    string            `json:"creatorId"`
	PublishedBy  string            `json:"publishedBy"`
	Fields       map[string]string `json:"fields"`
	VersionCount int               `json:"versionCount"`
	PublishedAt  time.Time         `json:"publishedAt"`
}

// PresenceEntry is one currently-connected participant.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Snapshot is the full read-side view handed to a joining or reconnecting
// client, replacing any incremental state it held before.
type Snapshot struct {
	Session Session         `json:"session"`
	Online  []PresenceEntry `json:"online"`
	Claims  []EditingClaim  `json:"claims"`
}

var allowedArtifactTypes = map[string]struct{}{
	"STORY":   {},
	"POEM":    {},
	"SCRIPT":  {},
	"LYRICS":  {},
	"ESSAY":   {},
	"ARTWORK": {},
}

var allowedCommentTypes = map[string]struct{}{
	"general":    {},
	"suggestion": {},
	"question":   {},
	"review":     {},
	"feedback":   {},
}

func NormalizeArtifactType(value string) string {
	if _, ok := allowedArtifactTypes[value]; ok {
		return value
	}
	return "STORY"
}

func normalizeCommentType(value string) string {
	if _, ok := allowedCommentTypes[value]; ok {
		return value
	}
	return "general"
}

// RoleOf resolves a user's role within a session. The creator is always an
// implicit owner even without a participant record.
func (s *Session) RoleOf(userID string) rbac.Role {
	if userID == s.CreatorID {
		return rbac.RoleOwner
	}
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p.Role
		}
	}
	return ""
}

func (s *Session) participant(userID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

func cloneFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Clone deep-copies the aggregate so readers outside the room goroutine can
// never alias its mutable state.
func (s *Session) Clone() Session {
	out := *s
	out.Fields = cloneFields(s.Fields)
	out.Participants = append([]Participant(nil), s.Participants...)
	out.Comments = make([]Comment, len(s.Comments))
	for i, c := range s.Comments {
		out.Comments[i] = c
		out.Comments[i].Replies = append([]Reply(nil), c.Replies...)
	}
	out.Versions = make([]Version, len(s.Versions))
	for i, v := range s.Versions {
		out.Versions[i] = v
		out.Versions[i].Fields = cloneFields(v.Fields)
	}
	return out
}
