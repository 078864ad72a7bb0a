package collab

import (
	"strings"

	"atelier/api/internal/rbac"
)

// handleApplyEdit is the last-writer-wins acceptance path. "Last" is defined
// by arrival at this room, not by client clocks: ClientTimestamp is never
// consulted for ordering. An edit without a matching editing claim is still
// accepted; claims are advisory.
func (r *Room) handleApplyEdit(c ApplyEdit) error {
	if !r.allowed(c.UserID, rbac.ActionEdit) {
		return permissionDenied("role does not allow editing")
	}
	if r.session.Status != StatusActive {
		return sessionClosed("session is not accepting edits")
	}
	field := strings.TrimSpace(c.Field)
	if field == "" {
		return invalidInput("field name is required")
	}

	now := r.now()
	r.session.Fields[field] = c.Value
	r.session.LastActivityAt = now
	r.dirty = true
	r.lastEditAt = now
	r.lastEditorID = c.UserID

	r.persistState()

	// The sender applied the value optimistically; only the others need it.
	r.broadcast(ContentUpdate{Field: field, Value: c.Value, UserID: c.UserID}, c.ConnID)
	return nil
}

func (r *Room) handleSetStatus(userID string, from, to Status) error {
	if r.session.RoleOf(userID) != rbac.RoleOwner {
		return permissionDenied("only the owner can pause or resume")
	}
	if r.session.Status == StatusCompleted {
		return sessionClosed("session is already published")
	}
	if r.session.Status != from {
		return invalidInput("session is not " + string(from))
	}

	r.session.Status = to
	r.session.LastActivityAt = r.now()
	r.persistState()
	r.broadcast(StatusChanged{Status: to}, "")
	return nil
}

func (r *Room) handleUpdateSettings(c UpdateSettings) (any, error) {
	if r.session.RoleOf(c.UserID) != rbac.RoleOwner {
		return nil, permissionDenied("only the owner can change settings")
	}

	settings := c.Settings
	if settings.AutoSaveIntervalMS <= 0 {
		settings.AutoSaveIntervalMS = DefaultSettings().AutoSaveIntervalMS
	}
	settings.DefaultRole = string(rbac.Normalize(settings.DefaultRole))

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.UpdateSettings(ctx, r.id, settings); err != nil {
		return nil, err
	}

	r.session.Settings = settings
	r.ticker.Reset(r.autoSaveInterval())
	r.broadcast(SettingsUpdated{Settings: settings}, "")
	return settings, nil
}

func (r *Room) handlePublish(c Publish) (any, error) {
	if !r.allowed(c.UserID, rbac.ActionPublish) {
		return nil, permissionDenied("only the owner can publish")
	}
	switch r.session.Status {
	case StatusCompleted:
		return nil, sessionClosed("session is already published")
	case StatusPaused:
		return nil, invalidInput("resume the session before publishing")
	}

	// Capture unsaved work in a final version before freezing.
	if r.dirty {
		if _, err := r.appendVersion(c.UserID, "Final version before publish"); err != nil {
			return nil, err
		}
	}

	now := r.now()
	r.session.Status = StatusCompleted
	r.session.LastActivityAt = now
	r.persistState()
	r.broadcast(StatusChanged{Status: StatusCompleted}, "")

	return PublishPayload{
		SessionID:    r.session.ID,
		Name:         r.session.Name,
		Description:  r.session.Description,
		ArtifactType: r.session.ArtifactType,
		CreatorID:    r.session.CreatorID,
		PublishedBy:  c.UserID,
		Fields:       cloneFields(r.session.Fields),
		VersionCount: len(r.session.Versions),
		PublishedAt:  now,
	}, nil
}

func (r *Room) handleDeleteSession(c DeleteSession) error {
	if !r.allowed(c.UserID, rbac.ActionDeleteSession) {
		return permissionDenied("only the owner can delete the session")
	}
	if r.session.Status == StatusCompleted {
		return sessionClosed("published sessions cannot be deleted")
	}

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.DeleteSession(ctx, r.id); err != nil {
		return err
	}

	r.broadcast(SessionDeleted{}, "")
	return nil
}
