package collab

import (
	"fmt"

	"atelier/api/internal/rbac"
)

// appendVersion assigns the next sequential number and persists before the
// in-memory history grows, so numbers stay gapless even when the store fails.
func (r *Room) appendVersion(savedBy, summary string) (Version, error) {
	next := 1
	if n := len(r.session.Versions); n > 0 {
		next = r.session.Versions[n-1].VersionNumber + 1
	}

	version := Version{
		VersionNumber:  next,
		Fields:         cloneFields(r.session.Fields),
		SavedByID:      savedBy,
		ChangesSummary: summary,
		Timestamp:      r.now(),
	}

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.AppendVersion(ctx, r.id, version); err != nil {
		return Version{}, err
	}

	r.session.Versions = append(r.session.Versions, version)
	r.dirty = false
	return version, nil
}

func (r *Room) handleSaveVersion(c SaveVersion) (any, error) {
	if !r.allowed(c.UserID, rbac.ActionEdit) {
		return nil, permissionDenied("role does not allow saving versions")
	}
	if r.session.Status == StatusCompleted {
		return nil, sessionClosed("session is already published")
	}

	summary := c.Summary
	if summary == "" {
		summary = "Manual save"
	}
	version, err := r.appendVersion(c.UserID, summary)
	if err != nil {
		return nil, err
	}
	r.broadcast(VersionSaved{Version: version.Meta()}, "")
	return version, nil
}

// handleRestoreVersion replaces every field from the chosen snapshot through
// the same accepted-edit path as live edits, then records the restore point
// as a fresh version.
func (r *Room) handleRestoreVersion(c RestoreVersion) (any, error) {
	if !r.allowed(c.UserID, rbac.ActionEdit) {
		return nil, permissionDenied("role does not allow restoring versions")
	}
	if r.session.Status != StatusActive {
		return nil, sessionClosed("session is not accepting edits")
	}

	var target *Version
	for i := range r.session.Versions {
		if r.session.Versions[i].VersionNumber == c.VersionNumber {
			target = &r.session.Versions[i]
			break
		}
	}
	if target == nil {
		return nil, notFound("version not found")
	}

	// Fields created after the snapshot disappear from authoritative state;
	// clients must hear them emptied or their views diverge until re-join.
	var cleared []string
	for field := range r.session.Fields {
		if _, ok := target.Fields[field]; !ok {
			cleared = append(cleared, field)
		}
	}

	now := r.now()
	r.session.Fields = cloneFields(target.Fields)
	r.session.LastActivityAt = now
	r.lastEditAt = now
	r.lastEditorID = c.UserID
	r.persistState()

	// A restore is a synthetic edit to every field at once; every connected
	// client, the initiator included, converges on the same values.
	for field, value := range r.session.Fields {
		r.broadcast(ContentUpdate{Field: field, Value: value, UserID: c.UserID}, "")
	}
	for _, field := range cleared {
		r.broadcast(ContentUpdate{Field: field, Value: "", UserID: c.UserID}, "")
	}

	version, err := r.appendVersion(c.UserID, fmt.Sprintf("Restored from version %d", c.VersionNumber))
	if err != nil {
		return nil, err
	}
	r.broadcast(VersionSaved{Version: version.Meta()}, "")
	return version, nil
}
