package collab

import (
	"log"
	"time"
)

const minAutoSaveInterval = 5 * time.Second

func (r *Room) autoSaveInterval() time.Duration {
	interval := time.Duration(r.session.Settings.AutoSaveIntervalMS) * time.Millisecond
	if interval < minAutoSaveInterval {
		interval = time.Duration(DefaultSettings().AutoSaveIntervalMS) * time.Millisecond
	}
	return interval
}

// autoSaveTick runs inside the room goroutine on each ticker fire. It
// snapshots only when there is unsaved work and the most recent edit has
// settled past the debounce window; a failed write leaves the dirty flag set
// so the next tick retries without ever blocking edit acceptance.
func (r *Room) autoSaveTick() {
	if r.session.Status != StatusActive || !r.session.Settings.AutoSave {
		return
	}
	if !r.dirty {
		return
	}
	if r.now().Sub(r.lastEditAt) < r.debounce {
		return
	}

	savedBy := r.lastEditorID
	if savedBy == "" {
		savedBy = r.session.CreatorID
	}
	version, err := r.appendVersion(savedBy, "Auto-saved")
	if err != nil {
		log.Printf("collab: session %s: autosave failed, will retry: %v", r.id, err)
		return
	}
	r.broadcast(VersionSaved{Version: version.Meta()}, "")
}
