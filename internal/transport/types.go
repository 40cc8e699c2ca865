package transport

import "errors"

var (
	// ErrDestinationUnresolved reports a destination that no longer exists or is no longer reachable
	// (chat deleted, bot removed). Callers drop the subscription.
	ErrDestinationUnresolved = errors.New("destination unresolved")

	// ErrMessageNotFound reports a previously posted message that is gone.
	ErrMessageNotFound = errors.New("message not found")
)

// Destination is a resolved place announcements are posted to.
type Destination struct {
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
	Title    string
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int64
}

// Content is a platform-neutral announcement.
//
// Headline is plain text shown above the card (the broadcast mention on go-live);
// an empty Headline clears it on edit.
type Content struct {
	Headline string
	Card     Card
	Notify   bool
}

type Card struct {
	Author       string
	AuthorURL    string
	Title        string
	URL          string
	Description  string
	Fields       []Field
	ImageURL     string
	ThumbnailURL string
	Footer       string
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Picture returns the image that best represents the card, preferring the large image.
func (c Card) Picture() string {
	if c.ImageURL != "" {
		return c.ImageURL
	}
	return c.ThumbnailURL
}
