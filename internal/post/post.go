// Package post defines the post model the protocol engine consumes and the
// adapter contract for fetching a peer's public posts. Network adapters for
// specific hosting networks live outside this module; the engine only sees
// the value shape.
package post

import (
	"context"
	"sort"
	"time"
)

// Post is one public post as seen by the engine.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	HasMedia  bool      `json:"has_media"`
	CreatedAt time.Time `json:"created_at"`
}

// Less orders posts by (created_at, id); the pair is the protocol's total
// order over posts.
func (p Post) Less(other Post) bool {
	if !p.CreatedAt.Equal(other.CreatedAt) {
		return p.CreatedAt.Before(other.CreatedAt)
	}
	return p.ID < other.ID
}

// SortChronological sorts posts oldest first.
func SortChronological(posts []Post) {
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].Less(posts[j])
	})
}

// SortNewestFirst sorts posts newest first, the order sources deliver.
func SortNewestFirst(posts []Post) {
	sort.Slice(posts, func(i, j int) bool {
		return posts[j].Less(posts[i])
	})
}

// Source supplies the chronological window of a peer's posts, newest
// first. Implementations wrap a hosting network's API; transport concerns
// stay behind this interface.
type Source interface {
	Fetch(ctx context.Context, sourceID string, limit int) ([]Post, error)
}
