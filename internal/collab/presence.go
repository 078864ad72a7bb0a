package collab

import (
	"log"
	"strings"

	"atelier/api/internal/rbac"
)

func (r *Room) allowed(userID string, action rbac.Action) bool {
	return rbac.Can(r.session.RoleOf(userID), action)
}

func (r *Room) handleJoin(c Join) (any, error) {
	if existing := r.session.participant(c.UserID); existing != nil {
		if c.Username != "" && c.Username != existing.Username {
			existing.Username = c.Username
			// Same policy as persistState: the accepted rename stands and a
			// failed write retries on the next one, so a cold reload cannot
			// quietly resurrect the old name forever.
			ctx, cancel := r.persistCtx()
			defer cancel()
			if err := r.store.UpsertParticipant(ctx, r.id, *existing); err != nil {
				log.Printf("collab: session %s: persist renamed participant: %v", r.id, err)
			}
		}
		return r.snapshotLocked(), nil
	}

	if c.UserID == r.session.CreatorID {
		// The creator is an implicit owner; joining just materializes the record.
	} else {
		if r.session.Settings.RequireApproval && !c.Approved {
			return nil, notAuthorized("session requires an invite to join")
		}
		if max := r.session.Settings.MaxParticipants; max > 0 && len(r.session.Participants) >= max {
			return nil, invalidInput("session is full")
		}
	}

	role := c.Role
	if c.UserID == r.session.CreatorID {
		role = rbac.RoleOwner
	} else if role == "" || role == rbac.RoleOwner {
		role = rbac.Normalize(r.session.Settings.DefaultRole)
	}

	participant := Participant{
		UserID:   c.UserID,
		Username: c.Username,
		Role:     role,
		JoinedAt: r.now(),
	}
	r.session.Participants = append(r.session.Participants, participant)

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.UpsertParticipant(ctx, r.id, participant); err != nil {
		r.session.Participants = r.session.Participants[:len(r.session.Participants)-1]
		return nil, err
	}

	return r.snapshotLocked(), nil
}

func (r *Room) handleLeave(c Leave) error {
	if !r.allowed(c.UserID, rbac.ActionLeave) {
		return permissionDenied("not a participant of this session")
	}
	if c.UserID == r.session.CreatorID {
		return invalidInput("the owner cannot leave their own session")
	}

	r.dropClaim(c.UserID, "")
	username := ""
	for i, p := range r.session.Participants {
		if p.UserID == c.UserID {
			username = p.Username
			r.session.Participants = append(r.session.Participants[:i], r.session.Participants[i+1:]...)
			break
		}
	}

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.RemoveParticipant(ctx, r.id, c.UserID); err != nil {
		return err
	}

	// Any lingering connections for this user no longer belong here.
	for id, cl := range r.clients {
		if cl.UserID() == c.UserID {
			delete(r.clients, id)
		}
	}
	delete(r.connCount, c.UserID)

	r.broadcast(UserLeft{UserID: c.UserID, Username: username}, "")
	return nil
}

func (r *Room) handleAttach(c Attach) error {
	client := c.Client
	participant := r.session.participant(client.UserID())
	if participant == nil && client.UserID() != r.session.CreatorID {
		return notAuthorized("join the session before subscribing")
	}

	r.clients[client.ID()] = client
	r.connCount[client.UserID()]++
	if r.connCount[client.UserID()] == 1 {
		joined := Participant{UserID: client.UserID(), Username: client.Username(), Role: r.session.RoleOf(client.UserID())}
		if participant != nil {
			joined = *participant
		}
		r.broadcast(UserJoined{User: joined}, client.ID())
	}
	return nil
}

// handleDetach performs the implicit-leave cleanup for a dropped transport:
// claims are released and, when this was the user's last connection, others
// see the departure.
func (r *Room) handleDetach(c Detach) error {
	client, ok := r.clients[c.ConnID]
	if !ok {
		return nil
	}
	delete(r.clients, c.ConnID)

	userID := client.UserID()
	r.connCount[userID]--
	if r.connCount[userID] > 0 {
		return nil
	}
	delete(r.connCount, userID)

	if _, held := r.claims[userID]; held {
		delete(r.claims, userID)
		r.broadcast(UserStoppedEditing{UserID: userID}, "")
	}
	r.broadcast(UserLeft{UserID: userID, Username: client.Username()}, "")
	return nil
}

func (r *Room) handleSetEditing(c SetEditing) error {
	if r.session.RoleOf(c.UserID) == "" {
		return notAuthorized("not a participant of this session")
	}
	field := strings.TrimSpace(c.Field)
	if field == "" {
		return invalidInput("field name is required")
	}

	// One claim per user: naming a new field supersedes the previous claim.
	r.claims[c.UserID] = EditingClaim{UserID: c.UserID, Field: field, Since: r.now()}
	r.broadcast(UserEditing{UserID: c.UserID, Field: field}, c.ConnID)
	return nil
}

func (r *Room) handleClearEditing(c ClearEditing) error {
	r.dropClaim(c.UserID, c.ConnID)
	return nil
}

func (r *Room) dropClaim(userID, excludeConn string) bool {
	if _, held := r.claims[userID]; !held {
		return false
	}
	delete(r.claims, userID)
	r.broadcast(UserStoppedEditing{UserID: userID}, excludeConn)
	return true
}

func (r *Room) handleCursorMove(c CursorMove) error {
	if r.session.RoleOf(c.UserID) == "" {
		return notAuthorized("not a participant of this session")
	}
	r.broadcast(CursorUpdate{UserID: c.UserID, Field: c.Field, Position: c.Position}, c.ConnID)
	return nil
}

func (r *Room) handleChangeRole(c ChangeRole) (any, error) {
	if !r.allowed(c.UserID, rbac.ActionChangeRole) {
		return nil, permissionDenied("only the owner can change roles")
	}
	if c.TargetID == r.session.CreatorID {
		return nil, invalidInput("the owner role is immutable")
	}
	target := r.session.participant(c.TargetID)
	if target == nil {
		return nil, notFound("participant not found")
	}

	role := rbac.Normalize(string(c.Role))
	target.Role = role

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.UpsertParticipant(ctx, r.id, *target); err != nil {
		return nil, err
	}
	return *target, nil
}

func (r *Room) handleRemoveParticipant(c RemoveParticipant) error {
	if !r.allowed(c.UserID, rbac.ActionChangeRole) {
		return permissionDenied("only the owner can remove participants")
	}
	if c.TargetID == r.session.CreatorID {
		return invalidInput("the owner cannot be removed")
	}
	if r.session.participant(c.TargetID) == nil {
		return notFound("participant not found")
	}
	return r.handleLeave(Leave{UserID: c.TargetID})
}
