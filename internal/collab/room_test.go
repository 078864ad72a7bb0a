package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"atelier/api/internal/rbac"
)

func TestApplyEditLastWriterWins(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "ana", "Ana", rbac.RoleEditor)
	joinAs(t, room, "bob", "Bob", rbac.RoleEditor)

	// Bob's client timestamp is older, but arrival order decides.
	mustHandle(t, room, ApplyEdit{UserID: "ana", Field: "content", Value: "from ana", ClientTimestamp: 2000})
	mustHandle(t, room, ApplyEdit{UserID: "bob", Field: "content", Value: "from bob", ClientTimestamp: 1000})

	if got := room.session.Fields["content"]; got != "from bob" {
		t.Fatalf("content = %q, want the last accepted write", got)
	}
	if !room.dirty {
		t.Fatal("accepted edits should mark the session dirty")
	}
	if room.lastEditorID != "bob" {
		t.Fatalf("lastEditorID = %q, want bob", room.lastEditorID)
	}
}

func TestApplyEditNotEchoedToSender(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "ana", "Ana", rbac.RoleEditor)
	sender := attach(t, room, "conn-ana", "ana", "Ana")
	other := attach(t, room, "conn-owner", "owner", "Owner")
	sender.events, other.events = nil, nil

	mustHandle(t, room, ApplyEdit{UserID: "ana", ConnID: "conn-ana", Field: "title", Value: "Draft"})

	if len(sender.events) != 0 {
		t.Fatalf("sender received %v, want nothing", sender.eventNames())
	}
	if len(other.events) != 1 || other.events[0].Event != "collaboration:content-update" {
		t.Fatalf("other events = %v, want one content-update", other.eventNames())
	}
}

func TestApplyEditPermissions(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "carol", "Carol", rbac.RoleCommenter)
	joinAs(t, room, "vera", "Vera", rbac.RoleViewer)

	_, err := room.handle(ApplyEdit{UserID: "carol", Field: "content", Value: "x"})
	wantKind(t, err, KindPermissionDenied)

	_, err = room.handle(ApplyEdit{UserID: "vera", Field: "content", Value: "x"})
	wantKind(t, err, KindPermissionDenied)

	// Not a participant at all.
	_, err = room.handle(ApplyEdit{UserID: "stranger", Field: "content", Value: "x"})
	wantKind(t, err, KindPermissionDenied)
}

func TestApplyEditValidation(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	_, err := room.handle(ApplyEdit{UserID: "owner", Field: "   ", Value: "x"})
	wantKind(t, err, KindInvalidInput)
}

func TestPauseResumeGating(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "ana", "Ana", rbac.RoleEditor)

	// Only the owner can pause.
	_, err := room.handle(Pause{UserID: "ana"})
	wantKind(t, err, KindPermissionDenied)

	mustHandle(t, room, Pause{UserID: "owner"})
	if room.session.Status != StatusPaused {
		t.Fatalf("status = %s, want paused", room.session.Status)
	}

	// Paused sessions reject edits but keep their content.
	_, err = room.handle(ApplyEdit{UserID: "ana", Field: "content", Value: "x"})
	wantKind(t, err, KindSessionClosed)

	// Pausing twice is a state error, not a permission one.
	_, err = room.handle(Pause{UserID: "owner"})
	wantKind(t, err, KindInvalidInput)

	mustHandle(t, room, Resume{UserID: "owner"})
	mustHandle(t, room, ApplyEdit{UserID: "ana", Field: "content", Value: "x"})
}

func TestPublishFreezesSession(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "ana", "Ana", rbac.RoleEditor)
	watcher := attach(t, room, "conn-w", "owner", "Owner")
	mustHandle(t, room, ApplyEdit{UserID: "ana", Field: "content", Value: "final text"})
	watcher.events = nil

	value := mustHandle(t, room, Publish{UserID: "owner"})
	payload := value.(PublishPayload)

	if room.session.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", room.session.Status)
	}
	// Unsaved work is captured in a final version before the freeze.
	if len(room.session.Versions) != 1 {
		t.Fatalf("versions = %d, want 1", len(room.session.Versions))
	}
	if payload.VersionCount != 1 || payload.Fields["content"] != "final text" {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.PublishedBy != "owner" {
		t.Fatalf("publishedBy = %q", payload.PublishedBy)
	}

	found := false
	for _, name := range watcher.eventNames() {
		if name == "collaboration:status-changed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("watcher events = %v, want a status-changed", watcher.eventNames())
	}

	// Everything mutating is rejected afterwards with the same kind.
	_, err := room.handle(ApplyEdit{UserID: "ana", Field: "content", Value: "late"})
	wantKind(t, err, KindSessionClosed)
	_, err = room.handle(SaveVersion{UserID: "ana"})
	wantKind(t, err, KindSessionClosed)
	_, err = room.handle(RestoreVersion{UserID: "ana", VersionNumber: 1})
	wantKind(t, err, KindSessionClosed)
	_, err = room.handle(Publish{UserID: "owner"})
	wantKind(t, err, KindSessionClosed)
	_, err = room.handle(Pause{UserID: "owner"})
	wantKind(t, err, KindSessionClosed)
}

func TestPublishRequiresActive(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	mustHandle(t, room, Pause{UserID: "owner"})

	_, err := room.handle(Publish{UserID: "owner"})
	wantKind(t, err, KindInvalidInput)
}

func TestPublishPermission(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "ana", "Ana", rbac.RoleEditor)

	_, err := room.handle(Publish{UserID: "ana"})
	wantKind(t, err, KindPermissionDenied)
}

func TestVersionNumbersAreSequential(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})

	for i := 1; i <= 3; i++ {
		mustHandle(t, room, ApplyEdit{UserID: "owner", Field: "content", Value: "draft"})
		value := mustHandle(t, room, SaveVersion{UserID: "owner", Summary: "checkpoint"})
		version := value.(Version)
		if version.VersionNumber != i {
			t.Fatalf("version number = %d, want %d", version.VersionNumber, i)
		}
	}
}

func TestVersionNumbersStayGaplessAcrossStoreFailures(t *testing.T) {
	failing := true
	store := &fakeStore{
		AppendVersionFn: func(ctx context.Context, id string, v Version) error {
			if failing {
				return errors.New("store down")
			}
			return nil
		},
	}
	room, _ := newTestRoom(t, store)
	mustHandle(t, room, ApplyEdit{UserID: "owner", Field: "content", Value: "v1"})

	if _, err := room.handle(SaveVersion{UserID: "owner"}); err == nil {
		t.Fatal("expected save to fail while the store is down")
	}
	if len(room.session.Versions) != 0 {
		t.Fatal("failed persist must not grow the in-memory history")
	}
	if !room.dirty {
		t.Fatal("failed save must leave the session dirty")
	}

	failing = false
	value := mustHandle(t, room, SaveVersion{UserID: "owner"})
	if got := value.(Version).VersionNumber; got != 1 {
		t.Fatalf("version number after retry = %d, want 1", got)
	}
}

func TestRestoreCreatesNewVersion(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "ana", "Ana", rbac.RoleEditor)

	mustHandle(t, room, ApplyEdit{UserID: "ana", Field: "content", Value: "first draft"})
	mustHandle(t, room, SaveVersion{UserID: "ana"})
	mustHandle(t, room, ApplyEdit{UserID: "ana", Field: "content", Value: "second draft"})
	mustHandle(t, room, SaveVersion{UserID: "ana"})

	value := mustHandle(t, room, RestoreVersion{UserID: "ana", VersionNumber: 1})
	restored := value.(Version)

	if restored.VersionNumber != 3 {
		t.Fatalf("restore produced version %d, want 3", restored.VersionNumber)
	}
	if got := room.session.Fields["content"]; got != "first draft" {
		t.Fatalf("content after restore = %q, want the version 1 value", got)
	}
	// History is append-only: the in-between version survives.
	if len(room.session.Versions) != 3 {
		t.Fatalf("versions = %d, want 3", len(room.session.Versions))
	}
}

func TestRestoreBroadcastsToEveryone(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "ana", "Ana", rbac.RoleEditor)
	mustHandle(t, room, ApplyEdit{UserID: "ana", Field: "content", Value: "first"})
	mustHandle(t, room, SaveVersion{UserID: "ana"})

	initiator := attach(t, room, "conn-ana", "ana", "Ana")
	initiator.events = nil

	mustHandle(t, room, RestoreVersion{UserID: "ana", VersionNumber: 1})

	gotContent := false
	for _, name := range initiator.eventNames() {
		if name == "collaboration:content-update" {
			gotContent = true
		}
	}
	if !gotContent {
		t.Fatalf("initiator events = %v, want content-update (restores are not edits by one client)", initiator.eventNames())
	}
}

func TestRestoreClearsFieldsAddedAfterSnapshot(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "ana", "Ana", rbac.RoleEditor)

	mustHandle(t, room, ApplyEdit{UserID: "ana", Field: "content", Value: "draft"})
	mustHandle(t, room, SaveVersion{UserID: "ana"})
	mustHandle(t, room, ApplyEdit{UserID: "ana", Field: "subtitle", Value: "added later"})

	watcher := attach(t, room, "conn-ana", "ana", "Ana")
	watcher.events = nil

	mustHandle(t, room, RestoreVersion{UserID: "ana", VersionNumber: 1})

	if _, ok := room.session.Fields["subtitle"]; ok {
		t.Fatal("restored state must not keep fields added after the snapshot")
	}
	clearedSubtitle := false
	for _, env := range watcher.events {
		update, ok := env.Data.(ContentUpdate)
		if ok && update.Field == "subtitle" && update.Value == "" {
			clearedSubtitle = true
		}
	}
	if !clearedSubtitle {
		t.Fatalf("events = %v, want an empty content-update clearing the dropped field", watcher.eventNames())
	}
}

func TestRestoreUnknownVersion(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	_, err := room.handle(RestoreVersion{UserID: "owner", VersionNumber: 9})
	wantKind(t, err, KindNotFound)
}

func TestAutoSaveDebounce(t *testing.T) {
	room, clock := newTestRoom(t, &fakeStore{})
	mustHandle(t, room, ApplyEdit{UserID: "owner", Field: "content", Value: "typing"})

	// Edit just happened: inside the debounce window, nothing saves.
	room.autoSaveTick()
	if len(room.session.Versions) != 0 {
		t.Fatal("tick inside the debounce window must not save")
	}

	clock.advance(room.debounce)
	room.autoSaveTick()
	if len(room.session.Versions) != 1 {
		t.Fatalf("versions = %d, want 1 after the window passed", len(room.session.Versions))
	}
	if got := room.session.Versions[0].ChangesSummary; got != "Auto-saved" {
		t.Fatalf("summary = %q", got)
	}
	if got := room.session.Versions[0].SavedByID; got != "owner" {
		t.Fatalf("savedBy = %q", got)
	}

	// Clean sessions never autosave.
	clock.advance(time.Hour)
	room.autoSaveTick()
	if len(room.session.Versions) != 1 {
		t.Fatal("tick without new edits must not save")
	}
}

func TestAutoSaveRespectsSettingsAndStatus(t *testing.T) {
	room, clock := newTestRoom(t, &fakeStore{})
	mustHandle(t, room, ApplyEdit{UserID: "owner", Field: "content", Value: "typing"})
	clock.advance(time.Minute)

	room.session.Settings.AutoSave = false
	room.autoSaveTick()
	if len(room.session.Versions) != 0 {
		t.Fatal("autosave disabled in settings must not save")
	}

	room.session.Settings.AutoSave = true
	room.session.Status = StatusPaused
	room.autoSaveTick()
	if len(room.session.Versions) != 0 {
		t.Fatal("paused sessions must not autosave")
	}
}

func TestAutoSaveRetriesAfterStoreFailure(t *testing.T) {
	failing := true
	store := &fakeStore{
		AppendVersionFn: func(ctx context.Context, id string, v Version) error {
			if failing {
				return errors.New("store down")
			}
			return nil
		},
	}
	room, clock := newTestRoom(t, store)
	mustHandle(t, room, ApplyEdit{UserID: "owner", Field: "content", Value: "typing"})
	clock.advance(time.Minute)

	room.autoSaveTick()
	if !room.dirty {
		t.Fatal("failed autosave must keep the dirty flag for the next tick")
	}

	failing = false
	room.autoSaveTick()
	if len(room.session.Versions) != 1 {
		t.Fatalf("versions = %d, want 1 after retry", len(room.session.Versions))
	}
	if room.dirty {
		t.Fatal("successful autosave must clear the dirty flag")
	}
}

func TestUpdateSettingsOwnerOnly(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "ana", "Ana", rbac.RoleEditor)

	_, err := room.handle(UpdateSettings{UserID: "ana", Settings: DefaultSettings()})
	wantKind(t, err, KindPermissionDenied)

	next := DefaultSettings()
	next.RequireApproval = true
	next.DefaultRole = "owner" // must never be grantable by default
	value := mustHandle(t, room, UpdateSettings{UserID: "owner", Settings: next})
	settings := value.(Settings)

	if !settings.RequireApproval {
		t.Fatal("requireApproval not applied")
	}
	if settings.DefaultRole == string(rbac.RoleOwner) {
		t.Fatalf("defaultRole = %q, owner must not be a default role", settings.DefaultRole)
	}
}

func TestDeleteSessionGating(t *testing.T) {
	room, _ := newTestRoom(t, &fakeStore{})
	joinAs(t, room, "ana", "Ana", rbac.RoleEditor)

	_, err := room.handle(DeleteSession{UserID: "ana"})
	wantKind(t, err, KindPermissionDenied)

	mustHandle(t, room, Publish{UserID: "owner"})
	_, err = room.handle(DeleteSession{UserID: "owner"})
	wantKind(t, err, KindSessionClosed)
}
