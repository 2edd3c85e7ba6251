package post

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// FileSource reads posts from a JSON file holding an array of post
// objects. It backs the CLI and tests; real deployments plug a network
// adapter into the same interface.
type FileSource struct {
	Path string
}

// Fetch loads the file, keeps posts by the given author when sourceID is
// non-empty, and returns up to limit posts newest first.
func (f *FileSource) Fetch(ctx context.Context, sourceID string, limit int) ([]Post, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open post file: %w", err)
	}
	defer file.Close()

	posts, err := ParseJSON(file)
	if err != nil {
		return nil, err
	}

	if sourceID != "" {
		kept := posts[:0]
		for _, p := range posts {
			if p.AuthorID == sourceID {
				kept = append(kept, p)
			}
		}
		posts = kept
	}

	SortNewestFirst(posts)
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// ParseJSON decodes a JSON array of posts.
func ParseJSON(r io.Reader) ([]Post, error) {
	var posts []Post
	if err := json.NewDecoder(r).Decode(&posts); err != nil {
		return nil, fmt.Errorf("parse posts: %w", err)
	}
	return posts, nil
}
