// Package ws is the WebSocket transport for live collaboration. A connection
// authenticates with the same bearer token as the REST API, joins one or more
// sessions, and from then on receives every broadcast for those sessions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/coder/websocket"

	"atelier/api/internal/app"
	"atelier/api/internal/collab"
)

// ClientMessage is a single inbound frame. Event selects the operation; the
// remaining fields are read per event.
type ClientMessage struct {
	Event         string `json:"event"`
	SessionID     string `json:"sessionId"`
	Field         string `json:"field"`
	Value         string `json:"value"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	Position      int    `json:"position,omitempty"`
	CommentID     string `json:"commentId,omitempty"`
	Type          string `json:"type,omitempty"`
	Content       string `json:"content,omitempty"`
	InviteToken   string `json:"inviteToken,omitempty"`
	Summary       string `json:"summary,omitempty"`
	VersionNumber int    `json:"versionNumber,omitempty"`
}

type Handler struct {
	service *app.Service
}

func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}
	identity, err := h.service.IdentityFromToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("ws: accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	h.handleConnection(r.Context(), conn, identity)
}

func (h *Handler) handleConnection(ctx context.Context, conn *websocket.Conn, identity app.Identity) {
	c := newClient(identity.UserID, identity.UserName)
	rooms := make(map[string]*collab.Room)

	go c.writePump(ctx, conn)

	// A dropped connection detaches from every session it was attached to,
	// which is indistinguishable from explicitly stopping collaboration.
	defer func() {
		c.close()
		for _, room := range rooms {
			_, _ = room.Do(context.Background(), collab.Detach{ConnID: c.id})
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(c, "", "INVALID_INPUT", "invalid message format")
			continue
		}
		if msg.SessionID == "" {
			h.sendError(c, "", "INVALID_INPUT", "sessionId is required")
			continue
		}

		if err := h.dispatch(ctx, c, rooms, identity, msg); err != nil {
			code, message := errorCode(err)
			h.sendError(c, msg.SessionID, code, message)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, c *client, rooms map[string]*collab.Room, identity app.Identity, msg ClientMessage) error {
	if msg.Event == "collaboration:join" {
		return h.join(ctx, c, rooms, identity, msg)
	}

	room, ok := rooms[msg.SessionID]
	if !ok {
		// Commands other than join require a prior join on this connection.
		var err error
		room, err = h.service.Hub().Room(ctx, msg.SessionID)
		if err != nil {
			return err
		}
		if err := h.attach(ctx, c, room); err != nil {
			return err
		}
		rooms[msg.SessionID] = room
	}

	switch msg.Event {
	case "collaboration:leave":
		if _, err := room.Do(ctx, collab.Leave{UserID: c.userID}); err != nil {
			return err
		}
		delete(rooms, msg.SessionID)
		return nil

	case "collaboration:content-update":
		_, err := room.Do(ctx, collab.ApplyEdit{
			UserID:          c.userID,
			ConnID:          c.id,
			Field:           msg.Field,
			Value:           msg.Value,
			ClientTimestamp: msg.Timestamp,
		})
		return err

	case "collaboration:user-editing":
		_, err := room.Do(ctx, collab.SetEditing{UserID: c.userID, ConnID: c.id, Field: msg.Field})
		return err

	case "collaboration:user-stopped-editing":
		_, err := room.Do(ctx, collab.ClearEditing{UserID: c.userID, ConnID: c.id})
		return err

	case "collaboration:cursor-update":
		_, err := room.Do(ctx, collab.CursorMove{
			UserID:   c.userID,
			ConnID:   c.id,
			Field:    msg.Field,
			Position: msg.Position,
		})
		return err

	case "collaboration:comment-added":
		_, err := room.Do(ctx, collab.AddComment{UserID: c.userID, Type: msg.Type, Content: msg.Content})
		return err

	case "collaboration:resolve-comment":
		_, err := room.Do(ctx, collab.ResolveComment{UserID: c.userID, CommentID: msg.CommentID})
		return err

	case "collaboration:reply":
		_, err := room.Do(ctx, collab.AddReply{UserID: c.userID, CommentID: msg.CommentID, Content: msg.Content})
		return err

	case "collaboration:save":
		_, err := room.Do(ctx, collab.SaveVersion{UserID: c.userID, Summary: msg.Summary})
		return err

	default:
		h.sendError(c, msg.SessionID, "INVALID_INPUT", "unknown event "+msg.Event)
		return nil
	}
}

// join adds the caller as a participant (redeeming an invite token when one
// is supplied), attaches the connection, and answers with a full snapshot.
func (h *Handler) join(ctx context.Context, c *client, rooms map[string]*collab.Room, identity app.Identity, msg ClientMessage) error {
	snapshot, err := h.service.Join(ctx, identity, msg.SessionID, msg.InviteToken)
	if err != nil {
		return err
	}

	room, err := h.service.Hub().Room(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	if _, ok := rooms[msg.SessionID]; !ok {
		if err := h.attach(ctx, c, room); err != nil {
			return err
		}
		rooms[msg.SessionID] = room
	}

	c.Deliver(collab.Envelope{
		Event:     "collaboration:joined",
		SessionID: msg.SessionID,
		Data:      snapshot,
	})
	return nil
}

func (h *Handler) attach(ctx context.Context, c *client, room *collab.Room) error {
	_, err := room.Do(ctx, collab.Attach{Client: c})
	return err
}

func errorCode(err error) (code, message string) {
	var domainErr *app.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code, domainErr.Message
	}
	if kind := collab.KindOf(err); kind != "" {
		return string(kind), err.Error()
	}
	return "SERVER_ERROR", err.Error()
}

func (h *Handler) sendError(c *client, sessionID, code, message string) {
	c.Deliver(collab.Envelope{
		Event:     "collaboration:error",
		SessionID: sessionID,
		Data:      map[string]string{"code": code, "message": message},
	})
}
