package collab

import (
	"strings"

	"atelier/api/internal/rbac"
	"atelier/api/internal/util"
)

func (r *Room) findComment(commentID string) *Comment {
	for i := range r.session.Comments {
		if r.session.Comments[i].ID == commentID {
			return &r.session.Comments[i]
		}
	}
	return nil
}

func (r *Room) handleAddComment(c AddComment) (any, error) {
	if !r.allowed(c.UserID, rbac.ActionComment) {
		return nil, permissionDenied("role does not allow commenting")
	}
	content := strings.TrimSpace(c.Content)
	if content == "" {
		return nil, invalidInput("comment content is required")
	}

	authorName := c.UserID
	if p := r.session.participant(c.UserID); p != nil {
		authorName = p.Username
	}

	comment := Comment{
		ID:         util.NewID("cmt"),
		SessionID:  r.id,
		AuthorID:   c.UserID,
		AuthorName: authorName,
		Type:       normalizeCommentType(c.Type),
		Content:    content,
		Replies:    []Reply{},
		CreatedAt:  r.now(),
	}

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.InsertComment(ctx, r.id, comment); err != nil {
		return nil, err
	}

	r.session.Comments = append(r.session.Comments, comment)
	// Broadcast to everyone, the actor's other tabs included.
	r.broadcast(CommentAdded{Comment: comment}, "")
	return comment, nil
}

func (r *Room) handleUpdateComment(c UpdateComment) (any, error) {
	comment := r.findComment(c.CommentID)
	if comment == nil {
		return nil, notFound("comment not found")
	}
	if comment.AuthorID != c.UserID && r.session.RoleOf(c.UserID) != rbac.RoleOwner {
		return nil, permissionDenied("only the author or owner can edit a comment")
	}
	content := strings.TrimSpace(c.Content)
	if content == "" {
		return nil, invalidInput("comment content is required")
	}

	updated := *comment
	updated.Content = content

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.UpdateComment(ctx, r.id, updated); err != nil {
		return nil, err
	}

	comment.Content = content
	r.broadcast(CommentUpdated{Comment: *comment}, "")
	return *comment, nil
}

func (r *Room) handleDeleteComment(c DeleteComment) error {
	comment := r.findComment(c.CommentID)
	if comment == nil {
		return notFound("comment not found")
	}
	if comment.AuthorID != c.UserID && r.session.RoleOf(c.UserID) != rbac.RoleOwner {
		return permissionDenied("only the author or owner can delete a comment")
	}

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.DeleteComment(ctx, r.id, c.CommentID); err != nil {
		return err
	}

	for i := range r.session.Comments {
		if r.session.Comments[i].ID == c.CommentID {
			r.session.Comments = append(r.session.Comments[:i], r.session.Comments[i+1:]...)
			break
		}
	}
	r.broadcast(CommentDeleted{CommentID: c.CommentID}, "")
	return nil
}

// handleResolveComment is idempotent: resolving an already-resolved comment
// succeeds without a second broadcast.
func (r *Room) handleResolveComment(c ResolveComment) (any, error) {
	if !r.allowed(c.UserID, rbac.ActionResolveComment) {
		return nil, permissionDenied("role does not allow resolving comments")
	}
	comment := r.findComment(c.CommentID)
	if comment == nil {
		return nil, notFound("comment not found")
	}
	if comment.Resolved {
		return *comment, nil
	}

	updated := *comment
	updated.Resolved = true
	updated.ResolvedBy = c.UserID

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.UpdateComment(ctx, r.id, updated); err != nil {
		return nil, err
	}

	comment.Resolved = true
	comment.ResolvedBy = c.UserID
	r.broadcast(CommentResolved{Comment: *comment}, "")
	return *comment, nil
}

// handleAddReply appends to a thread. Replying to a resolved comment is
// allowed and does not reopen it.
func (r *Room) handleAddReply(c AddReply) (any, error) {
	if !r.allowed(c.UserID, rbac.ActionComment) {
		return nil, permissionDenied("role does not allow commenting")
	}
	comment := r.findComment(c.CommentID)
	if comment == nil {
		return nil, notFound("comment not found")
	}
	content := strings.TrimSpace(c.Content)
	if content == "" {
		return nil, invalidInput("reply content is required")
	}

	authorName := c.UserID
	if p := r.session.participant(c.UserID); p != nil {
		authorName = p.Username
	}

	reply := Reply{
		ID:         util.NewID("rpl"),
		AuthorID:   c.UserID,
		AuthorName: authorName,
		Content:    content,
		CreatedAt:  r.now(),
	}

	ctx, cancel := r.persistCtx()
	defer cancel()
	if err := r.store.InsertReply(ctx, r.id, c.CommentID, reply); err != nil {
		return nil, err
	}

	comment.Replies = append(comment.Replies, reply)
	r.broadcast(ReplyAdded{CommentID: c.CommentID, Reply: reply}, "")
	return reply, nil
}
