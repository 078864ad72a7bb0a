package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"atelier/api/internal/archive"
	"atelier/api/internal/artifact"
	"atelier/api/internal/auth"
	"atelier/api/internal/collab"
	"atelier/api/internal/config"
	"atelier/api/internal/export"
	"atelier/api/internal/invite"
	"atelier/api/internal/rbac"
	"atelier/api/internal/search"
	"atelier/api/internal/util"
)

// Identity is an authenticated caller, reconstructed from a bearer token on
// every request.
type Identity struct {
	Token     string
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

type CreateSessionInput struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	ArtifactType string         `json:"artifactType"`
	Settings     *SettingsInput `json:"settings"`
}

// SettingsInput carries a partial settings update; nil fields keep their
// current value.
type SettingsInput struct {
	AutoSave           *bool   `json:"autoSave"`
	AutoSaveIntervalMS *int    `json:"autoSaveIntervalMs"`
	RequireApproval    *bool   `json:"requireApproval"`
	DefaultRole        *string `json:"defaultRole"`
	MaxParticipants    *int    `json:"maxParticipants"`
}

func (in *SettingsInput) apply(base collab.Settings) collab.Settings {
	if in == nil {
		return base
	}
	if in.AutoSave != nil {
		base.AutoSave = *in.AutoSave
	}
	if in.AutoSaveIntervalMS != nil {
		base.AutoSaveIntervalMS = *in.AutoSaveIntervalMS
	}
	if in.RequireApproval != nil {
		base.RequireApproval = *in.RequireApproval
	}
	if in.DefaultRole != nil {
		base.DefaultRole = *in.DefaultRole
	}
	if in.MaxParticipants != nil {
		base.MaxParticipants = *in.MaxParticipants
	}
	return base
}

type CommentInput struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type InviteInput struct {
	Role string `json:"role"`
}

type Service struct {
	cfg       config.Config
	store     collab.Store
	hub       *collab.Hub
	invites   *invite.RedisStore
	search    *search.Service
	artifacts *artifact.Service
	archive   *archive.Uploader
	exporter  *export.Service
}

func New(cfg config.Config, dataStore collab.Store, hub *collab.Hub, invites *invite.RedisStore, searcher *search.Service, artifacts *artifact.Service, archiver *archive.Uploader) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		hub:       hub,
		invites:   invites,
		search:    searcher,
		artifacts: artifacts,
		archive:   archiver,
		exporter:  export.NewService(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingInvites(ctx context.Context) error {
	if s.invites == nil {
		return nil
	}
	return s.invites.Ping(ctx)
}

// Login issues a bearer token for a display name. Identity is stateless: the
// user ID is derived from the normalized name so the same name always maps to
// the same user.
func (s *Service) Login(ctx context.Context, name string) (Identity, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "Guest"
	}

	userID := userIDFor(userName)
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  userID,
		Name: userName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		Token:     token,
		UserID:    userID,
		UserName:  userName,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) IdentityFromToken(token string) (Identity, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func userIDFor(name string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(name))))
	return "usr_" + hex.EncodeToString(sum[:8])
}

func (s *Service) CreateSession(ctx context.Context, actor Identity, input CreateSessionInput) (collab.Snapshot, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return collab.Snapshot{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "session name is required", nil)
	}

	now := time.Now()
	session := &collab.Session{
		ID:           util.NewID("sess"),
		Name:         name,
		Description:  strings.TrimSpace(input.Description),
		ArtifactType: collab.NormalizeArtifactType(input.ArtifactType),
		CreatorID:    actor.UserID,
		Participants: []collab.Participant{{
			UserID:   actor.UserID,
			Username: actor.UserName,
			Role:     rbac.RoleOwner,
			JoinedAt: now,
		}},
		Settings:       input.Settings.apply(collab.DefaultSettings()),
		Fields:         map[string]string{},
		Status:         collab.StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	room, err := s.hub.Create(ctx, session)
	if err != nil {
		return collab.Snapshot{}, err
	}
	s.indexSession(*session)

	snapshot, err := room.Snapshot(ctx)
	return snapshot, fromCollab(err)
}

func (s *Service) ListSessions(ctx context.Context) ([]*collab.Session, error) {
	return s.store.ListSessions(ctx)
}

// Search answers GET /api/sessions?q=. Without a search backend it degrades
// to a substring scan over the store, which keeps single-node dev setups
// working.
func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search != nil {
		return s.search.Search(q), nil
	}

	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return search.Response{}, err
	}
	needle := strings.ToLower(q.Text)
	results := []search.Result{}
	for _, sess := range sessions {
		if strings.Contains(strings.ToLower(sess.Name), needle) ||
			strings.Contains(strings.ToLower(sess.Description), needle) {
			results = append(results, search.Result{
				Type:      search.ResultSession,
				ID:        sess.ID,
				Title:     sess.Name,
				Snippet:   sess.Description,
				SessionID: sess.ID,
			})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (collab.Snapshot, error) {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return collab.Snapshot{}, fromCollab(err)
	}
	snapshot, err := room.Snapshot(ctx)
	return snapshot, fromCollab(err)
}

func (s *Service) UpdateSettings(ctx context.Context, actor Identity, sessionID string, input *SettingsInput) (collab.Settings, error) {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return collab.Settings{}, fromCollab(err)
	}
	snapshot, err := room.Snapshot(ctx)
	if err != nil {
		return collab.Settings{}, fromCollab(err)
	}

	result, err := room.Do(ctx, collab.UpdateSettings{
		UserID:   actor.UserID,
		Settings: input.apply(snapshot.Session.Settings),
	})
	if err != nil {
		return collab.Settings{}, fromCollab(err)
	}
	settings, _ := result.(collab.Settings)
	return settings, nil
}

func (s *Service) DeleteSession(ctx context.Context, actor Identity, sessionID string) error {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return fromCollab(err)
	}
	if _, err := room.Do(ctx, collab.DeleteSession{UserID: actor.UserID}); err != nil {
		return fromCollab(err)
	}
	s.hub.Forget(sessionID)
	if s.search != nil {
		s.search.DeleteSession(sessionID)
	}
	return nil
}

// Join adds the caller as a participant. An invite token, when supplied, is
// redeemed first; it both satisfies approval-required sessions and may carry
// a role granted by the inviter.
func (s *Service) Join(ctx context.Context, actor Identity, sessionID, inviteToken string) (collab.Snapshot, error) {
	cmd := collab.Join{UserID: actor.UserID, Username: actor.UserName}

	var redeemed *invite.Invite
	if inviteToken != "" {
		if s.invites == nil {
			return collab.Snapshot{}, domainError(http.StatusBadRequest, "INVALID_INPUT", "invites are not enabled", nil)
		}
		inv, err := s.invites.Redeem(ctx, inviteToken)
		if err != nil {
			return collab.Snapshot{}, domainError(http.StatusForbidden, "NOT_AUTHORIZED", "invite is invalid or expired", nil)
		}
		if inv.SessionID != sessionID {
			return collab.Snapshot{}, domainError(http.StatusForbidden, "NOT_AUTHORIZED", "invite is for a different session", nil)
		}
		cmd.Approved = true
		cmd.Role = inv.Role
		redeemed = &inv
	}

	// An invite is only consumed by a join the room accepts; on rejection the
	// token is put back for another try.
	restore := func() {
		if redeemed == nil {
			return
		}
		if err := s.invites.Restore(ctx, inviteToken, *redeemed); err != nil {
			log.Printf("app: session %s: restore invite after failed join: %v", sessionID, err)
		}
	}

	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		restore()
		return collab.Snapshot{}, fromCollab(err)
	}
	result, err := room.Do(ctx, cmd)
	if err != nil {
		restore()
		return collab.Snapshot{}, fromCollab(err)
	}
	snapshot, _ := result.(collab.Snapshot)
	return snapshot, nil
}

func (s *Service) Leave(ctx context.Context, actor Identity, sessionID string) error {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return fromCollab(err)
	}
	_, err = room.Do(ctx, collab.Leave{UserID: actor.UserID})
	return fromCollab(err)
}

func (s *Service) Participants(ctx context.Context, sessionID string) ([]collab.Participant, []collab.PresenceEntry, error) {
	snapshot, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return snapshot.Session.Participants, snapshot.Online, nil
}

// Invite mints a one-time join token for the session. Only roles below owner
// can be granted.
func (s *Service) Invite(ctx context.Context, actor Identity, sessionID string, input InviteInput) (string, error) {
	if s.invites == nil {
		return "", domainError(http.StatusServiceUnavailable, "INVITES_UNAVAILABLE", "invite storage is not configured", nil)
	}

	snapshot, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	role := snapshot.Session.RoleOf(actor.UserID)
	if !rbac.Can(role, rbac.ActionInviteParticipant) {
		return "", domainError(http.StatusForbidden, "PERMISSION_DENIED", "role does not allow inviting participants", nil)
	}

	token, err := s.invites.Create(ctx, invite.Invite{
		SessionID: sessionID,
		Role:      rbac.Normalize(input.Role),
		InvitedBy: actor.UserID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("create invite: %w", err)
	}
	return token, nil
}

func (s *Service) ChangeRole(ctx context.Context, actor Identity, sessionID, targetID, role string) (collab.Participant, error) {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return collab.Participant{}, fromCollab(err)
	}
	result, err := room.Do(ctx, collab.ChangeRole{
		UserID:   actor.UserID,
		TargetID: targetID,
		Role:     rbac.Role(strings.ToLower(role)),
	})
	if err != nil {
		return collab.Participant{}, fromCollab(err)
	}
	participant, _ := result.(collab.Participant)
	return participant, nil
}

func (s *Service) RemoveParticipant(ctx context.Context, actor Identity, sessionID, targetID string) error {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return fromCollab(err)
	}
	_, err = room.Do(ctx, collab.RemoveParticipant{UserID: actor.UserID, TargetID: targetID})
	return fromCollab(err)
}

func (s *Service) Pause(ctx context.Context, actor Identity, sessionID string) error {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return fromCollab(err)
	}
	_, err = room.Do(ctx, collab.Pause{UserID: actor.UserID})
	return fromCollab(err)
}

func (s *Service) Resume(ctx context.Context, actor Identity, sessionID string) error {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return fromCollab(err)
	}
	_, err = room.Do(ctx, collab.Resume{UserID: actor.UserID})
	return fromCollab(err)
}

func (s *Service) SaveVersion(ctx context.Context, actor Identity, sessionID, summary string) (collab.Version, error) {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return collab.Version{}, fromCollab(err)
	}
	result, err := room.Do(ctx, collab.SaveVersion{UserID: actor.UserID, Summary: summary})
	if err != nil {
		return collab.Version{}, fromCollab(err)
	}
	version, _ := result.(collab.Version)
	return version, nil
}

func (s *Service) Versions(ctx context.Context, sessionID string) ([]collab.VersionMeta, error) {
	snapshot, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	metas := make([]collab.VersionMeta, 0, len(snapshot.Session.Versions))
	for _, v := range snapshot.Session.Versions {
		metas = append(metas, v.Meta())
	}
	return metas, nil
}

func (s *Service) RestoreVersion(ctx context.Context, actor Identity, sessionID string, versionNumber int) (collab.Version, error) {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return collab.Version{}, fromCollab(err)
	}
	result, err := room.Do(ctx, collab.RestoreVersion{UserID: actor.UserID, VersionNumber: versionNumber})
	if err != nil {
		return collab.Version{}, fromCollab(err)
	}
	version, _ := result.(collab.Version)
	return version, nil
}

// Publish freezes the session and hands the frozen fields to the artifact
// pipeline: a git commit plus tag, an object-storage bundle, and the search
// index. Pipeline failures are logged; the publish itself stands.
func (s *Service) Publish(ctx context.Context, actor Identity, sessionID string) (collab.PublishPayload, error) {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return collab.PublishPayload{}, fromCollab(err)
	}
	result, err := room.Do(ctx, collab.Publish{UserID: actor.UserID})
	if err != nil {
		return collab.PublishPayload{}, fromCollab(err)
	}
	payload, _ := result.(collab.PublishPayload)

	if s.artifacts != nil {
		if _, err := s.artifacts.Materialize(payload); err != nil {
			log.Printf("app: session %s: materialize artifact: %v", sessionID, err)
		}
	}
	s.archiveBundle(ctx, payload)

	if snapshot, err := room.Snapshot(ctx); err == nil {
		s.indexSession(snapshot.Session)
	}
	return payload, nil
}

func (s *Service) archiveBundle(ctx context.Context, payload collab.PublishPayload) {
	if s.archive == nil {
		return
	}
	bundle, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	if _, err := s.archive.Upload(ctx, payload.SessionID, "bundle.json", bundle, "application/json"); err != nil {
		log.Printf("app: session %s: archive bundle: %v", payload.SessionID, err)
	}
}

func (s *Service) ArtifactHistory(sessionID string, limit int) ([]artifact.Record, error) {
	if s.artifacts == nil {
		return []artifact.Record{}, nil
	}
	return s.artifacts.History(sessionID, limit)
}

func (s *Service) AddComment(ctx context.Context, actor Identity, sessionID string, input CommentInput) (collab.Comment, error) {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return collab.Comment{}, fromCollab(err)
	}
	result, err := room.Do(ctx, collab.AddComment{
		UserID:  actor.UserID,
		Type:    input.Type,
		Content: input.Content,
	})
	if err != nil {
		return collab.Comment{}, fromCollab(err)
	}
	comment, _ := result.(collab.Comment)
	s.indexComment(comment)
	return comment, nil
}

func (s *Service) ListComments(ctx context.Context, sessionID string) ([]collab.Comment, error) {
	snapshot, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return snapshot.Session.Comments, nil
}

func (s *Service) UpdateComment(ctx context.Context, actor Identity, sessionID, commentID, content string) (collab.Comment, error) {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return collab.Comment{}, fromCollab(err)
	}
	result, err := room.Do(ctx, collab.UpdateComment{
		UserID:    actor.UserID,
		CommentID: commentID,
		Content:   content,
	})
	if err != nil {
		return collab.Comment{}, fromCollab(err)
	}
	comment, _ := result.(collab.Comment)
	s.indexComment(comment)
	return comment, nil
}

func (s *Service) DeleteComment(ctx context.Context, actor Identity, sessionID, commentID string) error {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return fromCollab(err)
	}
	if _, err := room.Do(ctx, collab.DeleteComment{UserID: actor.UserID, CommentID: commentID}); err != nil {
		return fromCollab(err)
	}
	if s.search != nil {
		s.search.DeleteComment(commentID)
	}
	return nil
}

func (s *Service) ResolveComment(ctx context.Context, actor Identity, sessionID, commentID string) (collab.Comment, error) {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return collab.Comment{}, fromCollab(err)
	}
	result, err := room.Do(ctx, collab.ResolveComment{UserID: actor.UserID, CommentID: commentID})
	if err != nil {
		return collab.Comment{}, fromCollab(err)
	}
	comment, _ := result.(collab.Comment)
	s.indexComment(comment)
	return comment, nil
}

func (s *Service) AddReply(ctx context.Context, actor Identity, sessionID, commentID, content string) (collab.Reply, error) {
	room, err := s.hub.Room(ctx, sessionID)
	if err != nil {
		return collab.Reply{}, fromCollab(err)
	}
	result, err := room.Do(ctx, collab.AddReply{
		UserID:    actor.UserID,
		CommentID: commentID,
		Content:   content,
	})
	if err != nil {
		return collab.Reply{}, fromCollab(err)
	}
	reply, _ := result.(collab.Reply)
	return reply, nil
}

func (s *Service) Export(ctx context.Context, sessionID string, format export.Format) (*export.Result, error) {
	snapshot, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(snapshot.Session, format)
}

// Hub exposes the room registry to the WebSocket transport.
func (s *Service) Hub() *collab.Hub {
	return s.hub
}

func (s *Service) indexSession(session collab.Session) {
	if s.search == nil {
		return
	}
	s.search.IndexSession(search.SessionRecord{
		ID:           session.ID,
		Name:         session.Name,
		Description:  session.Description,
		ArtifactType: session.ArtifactType,
		Status:       string(session.Status),
	})
}

func (s *Service) indexComment(comment collab.Comment) {
	if s.search == nil || comment.ID == "" {
		return
	}
	s.search.IndexComment(search.CommentRecord{
		ID:        comment.ID,
		SessionID: comment.SessionID,
		Type:      comment.Type,
		Content:   comment.Content,
		Resolved:  comment.Resolved,
	})
}
