// Package feature maps observable post attributes to protocol bits. Each
// signal post contributes one bit per feature in the channel's feature set,
// in feature-set order: text length against the channel threshold, media
// attachment, and question-mark presence.
package feature

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ID identifies one observable post feature. The set is closed.
type ID string

const (
	// Len is 1 when the post text has at least the channel's threshold of
	// UTF-8 code points.
	Len ID = "len"

	// Media is 1 when the post carries a media attachment.
	Media ID = "media"

	// QMark is 1 when the post text contains U+003F.
	QMark ID = "qmark"
)

// DefaultLengthThreshold is the canonical code-point threshold for Len.
const DefaultLengthThreshold = 50

// ErrBadSet is returned for an empty, duplicated or unknown feature set.
var ErrBadSet = errors.New("feature: bad feature set")

// ParseID validates a feature identifier.
func ParseID(s string) (ID, error) {
	switch ID(s) {
	case Len, Media, QMark:
		return ID(s), nil
	default:
		return "", fmt.Errorf("%w: unknown feature %q", ErrBadSet, s)
	}
}

// Set is an ordered list of features. The order fixes each feature's bit
// position within a signal post.
type Set []ID

// ParseSet parses a comma-separated feature list, preserving order.
func ParseSet(csv string) (Set, error) {
	if csv == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadSet)
	}
	parts := strings.Split(csv, ",")
	set := make(Set, 0, len(parts))
	for _, p := range parts {
		id, err := ParseID(p)
		if err != nil {
			return nil, err
		}
		set = append(set, id)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Validate checks the set is non-empty and free of duplicates.
func (s Set) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty", ErrBadSet)
	}
	seen := make(map[ID]bool, len(s))
	for _, id := range s {
		if _, err := ParseID(string(id)); err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate feature %q", ErrBadSet, id)
		}
		seen[id] = true
	}
	return nil
}

// String returns the comma-separated form used in export strings.
func (s Set) String() string {
	parts := make([]string, len(s))
	for i, id := range s {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

// Extract returns the bit vector a post encodes, one bit per feature in set
// order.
func Extract(text string, hasMedia bool, set Set, lengthThreshold int) []byte {
	bits := make([]byte, len(set))
	for i, id := range set {
		switch id {
		case Len:
			if utf8.RuneCountInString(text) >= lengthThreshold {
				bits[i] = 1
			}
		case Media:
			if hasMedia {
				bits[i] = 1
			}
		case QMark:
			if strings.ContainsRune(text, '?') {
				bits[i] = 1
			}
		}
	}
	return bits
}

// Suggestion describes one edit that moves a post's encoded bits toward a
// target pattern.
type Suggestion struct {
	Feature ID
	From    byte
	To      byte

	// Label is the human-readable instruction shown by the UI.
	Label string
}

// Suggest compares current and target bit vectors and returns one
// suggestion per mismatched feature, in set order. Both vectors must have
// one bit per feature in the set.
func Suggest(set Set, current, target []byte) ([]Suggestion, error) {
	if len(current) != len(set) || len(target) != len(set) {
		return nil, fmt.Errorf("%w: bit vectors must have %d entries", ErrBadSet, len(set))
	}

	var out []Suggestion
	for i, id := range set {
		if current[i] == target[i] {
			continue
		}
		out = append(out, Suggestion{
			Feature: id,
			From:    current[i],
			To:      target[i],
			Label:   label(id, target[i]),
		})
	}
	return out, nil
}

func label(id ID, to byte) string {
	switch id {
	case Len:
		if to == 1 {
			return "make longer"
		}
		return "make shorter"
	case Media:
		if to == 1 {
			return "add media"
		}
		return "remove media"
	default:
		if to == 1 {
			return "add question mark"
		}
		return "remove question mark"
	}
}
