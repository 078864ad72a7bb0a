package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"atelier/api/internal/collab"
)

// MemoryStore keeps session aggregates in process memory. It backs tests and
// single-node deployments without a DATABASE_URL.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*collab.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*collab.Session)}
}

func (s *MemoryStore) CreateSession(_ context.Context, session *collab.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := session.Clone()
	s.sessions[session.ID] = &clone
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*collab.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, collab.ErrNotExist
	}
	clone := session.Clone()
	return &clone, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]*collab.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*collab.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		clone := session.Clone()
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return collab.ErrNotExist
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) UpdateSessionState(_ context.Context, id string, fields map[string]string, status collab.Status, lastActivityAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return collab.ErrNotExist
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	session.Fields = copied
	session.Status = status
	session.LastActivityAt = lastActivityAt
	return nil
}

func (s *MemoryStore) UpdateSettings(_ context.Context, id string, settings collab.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return collab.ErrNotExist
	}
	session.Settings = settings
	return nil
}

func (s *MemoryStore) UpsertParticipant(_ context.Context, sessionID string, p collab.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return collab.ErrNotExist
	}
	for i := range session.Participants {
		if session.Participants[i].UserID == p.UserID {
			session.Participants[i] = p
			return nil
		}
	}
	session.Participants = append(session.Participants, p)
	return nil
}

func (s *MemoryStore) RemoveParticipant(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return collab.ErrNotExist
	}
	for i := range session.Participants {
		if session.Participants[i].UserID == userID {
			session.Participants = append(session.Participants[:i], session.Participants[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) InsertComment(_ context.Context, sessionID string, c collab.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return collab.ErrNotExist
	}
	session.Comments = append(session.Comments, c)
	return nil
}

func (s *MemoryStore) UpdateComment(_ context.Context, sessionID string, c collab.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return collab.ErrNotExist
	}
	for i := range session.Comments {
		if session.Comments[i].ID == c.ID {
			replies := session.Comments[i].Replies
			session.Comments[i] = c
			session.Comments[i].Replies = replies
			return nil
		}
	}
	return collab.ErrNotExist
}

func (s *MemoryStore) DeleteComment(_ context.Context, sessionID, commentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return collab.ErrNotExist
	}
	for i := range session.Comments {
		if session.Comments[i].ID == commentID {
			session.Comments = append(session.Comments[:i], session.Comments[i+1:]...)
			return nil
		}
	}
	return collab.ErrNotExist
}

func (s *MemoryStore) InsertReply(_ context.Context, sessionID, commentID string, reply collab.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return collab.ErrNotExist
	}
	for i := range session.Comments {
		if session.Comments[i].ID == commentID {
			session.Comments[i].Replies = append(session.Comments[i].Replies, reply)
			return nil
		}
	}
	return collab.ErrNotExist
}

func (s *MemoryStore) AppendVersion(_ context.Context, sessionID string, v collab.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return collab.ErrNotExist
	}
	session.Versions = append(session.Versions, v)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
