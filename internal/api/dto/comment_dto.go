package dto

import (
	"time"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

// CreateCommentRequest payload.
type CreateCommentRequest struct {
	Body     string `json:"body"`
	Internal bool   `json:"internal"`
}

// CommentResponse is the wire form of a thread message.
type CommentResponse struct {
	ID         string      `json:"id"`
	TicketID   string      `json:"ticketId"`
	AuthorID   string      `json:"authorId"`
	AuthorName string      `json:"authorName"`
	AuthorRole domain.Role `json:"authorRole"`
	Body       string      `json:"body"`
	Internal   bool        `json:"internal"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Comment maps a domain comment.
func Comment(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:         c.ID,
		TicketID:   c.TicketID,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		AuthorRole: c.AuthorRole,
		Body:       c.Body,
		Internal:   c.Internal,
		CreatedAt:  c.CreatedAt,
	}
}

// Comments maps a thread.
func Comments(items []domain.Comment) []CommentResponse {
	out := make([]CommentResponse, 0, len(items))
	for _, c := range items {
		out = append(out, Comment(c))
	}
	return out
}
