package post

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func at(hour int) time.Time {
	return time.Date(2026, 2, 7, hour, 0, 0, 0, time.UTC)
}

func TestSortChronological(t *testing.T) {
	posts := []Post{
		{ID: "c", CreatedAt: at(12)},
		{ID: "a", CreatedAt: at(10)},
		{ID: "b", CreatedAt: at(11)},
	}
	SortChronological(posts)

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if posts[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, posts[i].ID, id)
		}
	}
}

func TestSort_TieBreakOnID(t *testing.T) {
	posts := []Post{
		{ID: "z", CreatedAt: at(10)},
		{ID: "a", CreatedAt: at(10)},
	}
	SortChronological(posts)
	if posts[0].ID != "a" {
		t.Error("equal timestamps not ordered by post id")
	}

	SortNewestFirst(posts)
	if posts[0].ID != "z" {
		t.Error("newest-first tie break wrong")
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posts.json")
	doc := `[
		{"id": "p1", "author_id": "alice", "text": "first", "has_media": false, "created_at": "2026-02-07T10:00:00Z"},
		{"id": "p2", "author_id": "alice", "text": "second?", "has_media": true, "created_at": "2026-02-07T11:00:00Z"},
		{"id": "p3", "author_id": "bob", "text": "other author", "has_media": false, "created_at": "2026-02-07T12:00:00Z"}
	]`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	src := &FileSource{Path: path}
	posts, err := src.Fetch(context.Background(), "alice", 0)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("Fetch() returned %d posts, want 2", len(posts))
	}
	if posts[0].ID != "p2" || posts[1].ID != "p1" {
		t.Errorf("order = %s, %s; want newest first", posts[0].ID, posts[1].ID)
	}
	if !posts[0].HasMedia {
		t.Error("has_media not parsed")
	}
	if !posts[0].CreatedAt.Equal(at(11)) {
		t.Errorf("created_at = %v", posts[0].CreatedAt)
	}

	limited, err := src.Fetch(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("Fetch(limit) error = %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "p3" {
		t.Errorf("limited fetch = %+v", limited)
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	src := &FileSource{Path: filepath.Join(t.TempDir(), "absent.json")}
	if _, err := src.Fetch(context.Background(), "", 0); err == nil {
		t.Error("Fetch(missing file) succeeded")
	}
}
