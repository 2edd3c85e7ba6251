package channel

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/quietpost/stegochannel/internal/beacon"
	"github.com/quietpost/stegochannel/internal/feature"
)

func testChannel(t *testing.T) *Channel {
	t.Helper()
	c, err := New("gallery", beacon.KindDate, 0.25,
		feature.Set{feature.Len, feature.Media, feature.QMark},
		feature.DefaultLengthThreshold, "peer@example")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew(t *testing.T) {
	c := testChannel(t)

	if len(c.Key) != 32 {
		t.Errorf("key length = %d, want 32", len(c.Key))
	}
	if c.ID.IsZero() {
		t.Error("channel ID is zero")
	}
	if c.NextSendSeq != 0 || c.NextRecvSeq != 0 {
		t.Error("fresh channel has non-zero counters")
	}

	other := testChannel(t)
	if bytes.Equal(c.Key, other.Key) {
		t.Error("two channels share a key")
	}
}

func TestValidate_BadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Channel)
	}{
		{"short key", func(c *Channel) { c.Key = c.Key[:16] }},
		{"bad beacon", func(c *Channel) { c.Beacon = "ntp" }},
		{"zero rate", func(c *Channel) { c.SelectionRate = 0 }},
		{"rate above one", func(c *Channel) { c.SelectionRate = 1.5 }},
		{"empty features", func(c *Channel) { c.Features = nil }},
		{"duplicate features", func(c *Channel) { c.Features = feature.Set{feature.Len, feature.Len} }},
		{"zero threshold", func(c *Channel) { c.LengthThreshold = 0 }},
	}

	for _, tt := range tests {
		c := testChannel(t)
		tt.mutate(c)
		if err := c.Validate(); !errors.Is(err, ErrBadConfig) {
			t.Errorf("%s: Validate() error = %v, want ErrBadConfig", tt.name, err)
		}
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	c := testChannel(t)
	s := c.ExportString()

	if !strings.HasPrefix(s, "stegochannel:v0:") {
		t.Fatalf("export string %q lacks prefix", s)
	}
	if !strings.HasSuffix(s, ":date:0.25:len,media,qmark") {
		t.Fatalf("export string %q has unexpected tail", s)
	}

	imported, err := Import(s)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if !bytes.Equal(imported.Key, c.Key) {
		t.Error("imported key differs")
	}
	if imported.Beacon != c.Beacon {
		t.Errorf("imported beacon = %s", imported.Beacon)
	}
	if imported.SelectionRate != c.SelectionRate {
		t.Errorf("imported rate = %v", imported.SelectionRate)
	}
	if imported.Features.String() != c.Features.String() {
		t.Errorf("imported features = %s", imported.Features)
	}
	if imported.LengthThreshold != feature.DefaultLengthThreshold {
		t.Errorf("imported threshold = %d", imported.LengthThreshold)
	}
	if imported.ID == c.ID {
		t.Error("import reused the local channel ID")
	}
}

func TestImport_Malformed(t *testing.T) {
	c := testChannel(t)
	good := c.ExportString()

	tests := []string{
		"",
		"stegochannel:v0",
		"stegochanel:v0:" + strings.Join(strings.Split(good, ":")[2:], ":"),
		strings.Replace(good, ":v0:", ":v1:", 1),
		strings.Replace(good, ":date:", ":ntp:", 1),
		strings.Replace(good, ":0.25:", ":2.5:", 1),
		strings.Replace(good, ":0.25:", ":0:", 1),
		strings.Replace(good, "len,media,qmark", "len,len", 1),
		strings.Replace(good, "len,media,qmark", "", 1),
		good + ":extra",
	}

	for _, s := range tests {
		if _, err := Import(s); !errors.Is(err, ErrInvalidChannelString) {
			t.Errorf("Import(%q) error = %v, want ErrInvalidChannelString", s, err)
		}
	}

	// A truncated key field must be rejected too.
	parts := strings.Split(good, ":")
	parts[2] = parts[2][:len(parts[2])-1]
	if _, err := Import(strings.Join(parts, ":")); !errors.Is(err, ErrInvalidChannelString) {
		t.Error("Import(truncated key) succeeded")
	}
}

// Mutating a key character either fails to parse or produces a different
// key; it can never silently import the same channel.
func TestImport_KeyMutationChangesChannel(t *testing.T) {
	c := testChannel(t)
	parts := strings.Split(c.ExportString(), ":")

	keyField := parts[2]
	replacement := byte('A')
	if keyField[0] == replacement {
		replacement = 'B'
	}
	parts[2] = string(replacement) + keyField[1:]

	imported, err := Import(strings.Join(parts, ":"))
	if err == nil && bytes.Equal(imported.Key, c.Key) {
		t.Error("mutated key imported as the original channel")
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0.25, "0.25"},
		{1, "1"},
		{0.5, "0.5"},
		{0.1234, "0.1234"},
		{0.3, "0.3"},
	}
	for _, tt := range tests {
		if got := FormatRate(tt.rate); got != tt.want {
			t.Errorf("FormatRate(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestParseRate(t *testing.T) {
	if _, err := ParseRate("0.25"); err != nil {
		t.Errorf("ParseRate(0.25) error = %v", err)
	}
	// Arbitrary precision is accepted on import.
	if _, err := ParseRate("0.333333"); err != nil {
		t.Errorf("ParseRate(0.333333) error = %v", err)
	}
	for _, bad := range []string{"0", "-0.5", "1.01", "quarter", ""} {
		if _, err := ParseRate(bad); err == nil {
			t.Errorf("ParseRate(%q) succeeded", bad)
		}
	}
}

func TestSequenceCounters(t *testing.T) {
	c := testChannel(t)

	if got := c.AdvanceSendSeq(); got != 0 {
		t.Errorf("first AdvanceSendSeq() = %d, want 0", got)
	}
	if got := c.AdvanceSendSeq(); got != 1 {
		t.Errorf("second AdvanceSendSeq() = %d, want 1", got)
	}
	if got := c.PeekSendSeq(); got != 2 {
		t.Errorf("PeekSendSeq() = %d, want 2", got)
	}

	if !c.ObserveRecvSeq(0) {
		t.Error("first frame rejected")
	}
	if c.ObserveRecvSeq(0) {
		t.Error("replayed frame accepted")
	}
	if !c.ObserveRecvSeq(5) {
		t.Error("newer frame rejected")
	}
	if c.ObserveRecvSeq(4) {
		t.Error("older frame accepted after gap")
	}
}

func TestIDRoundTrip(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID() error = %v", err)
	}
	if parsed != id {
		t.Error("ID round trip failed")
	}
	if len(id.ShortString()) != 8 {
		t.Errorf("ShortString() length = %d", len(id.ShortString()))
	}
}
