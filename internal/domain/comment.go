package domain

import "time"

// Comment is a message in a ticket's collaboration thread.
type Comment struct {
	ID         string
	TicketID   string
	AuthorID   string
	AuthorName string
	AuthorRole Role
	Body       string
	Internal   bool
	CreatedAt  time.Time
}
