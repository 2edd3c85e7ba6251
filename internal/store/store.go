// Package store persists channel records and transmission checkpoints
// under the data directory. Documents are sealed with XChaCha20-Poly1305
// under a per-device key, so channel keys never reach disk in the clear,
// and every write is atomic (temp file + rename).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/quietpost/stegochannel/internal/channel"
	"github.com/quietpost/stegochannel/internal/crypto"
)

const (
	deviceKeyFile  = "device.key"
	channelsDir    = "channels"
	checkpointsDir = "checkpoints"
	sealedExt      = ".json.enc"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the at-rest persistence layer for one data directory. It is
// safe for concurrent use.
type Store struct {
	dir    string
	key    []byte
	logger *slog.Logger
	mu     sync.Mutex
}

// Open prepares the data directory, loading or creating the device key.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	for _, sub := range []string{"", channelsDir, checkpointsDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	key, err := loadOrCreateDeviceKey(filepath.Join(dataDir, deviceKeyFile))
	if err != nil {
		return nil, err
	}

	return &Store{dir: dataDir, key: key, logger: logger}, nil
}

// SaveChannel seals and writes one channel record.
func (s *Store) SaveChannel(c *channel.Channel) error {
	if c.ID.IsZero() {
		return fmt.Errorf("cannot save channel with zero ID")
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode channel: %w", err)
	}
	return s.writeSealed(filepath.Join(channelsDir, c.ID.String()+sealedExt), doc)
}

// LoadChannel reads one channel record by ID.
func (s *Store) LoadChannel(id channel.ID) (*channel.Channel, error) {
	doc, err := s.readSealed(filepath.Join(channelsDir, id.String()+sealedExt))
	if err != nil {
		return nil, err
	}
	var c channel.Channel
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("decode channel: %w", err)
	}
	return &c, nil
}

// LoadChannels reads every stored channel record.
func (s *Store) LoadChannels() ([]*channel.Channel, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, channelsDir))
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	var out []*channel.Channel
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sealedExt) {
			continue
		}
		id, err := channel.ParseID(strings.TrimSuffix(e.Name(), sealedExt))
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping unrecognized channel file", "file", e.Name())
			}
			continue
		}
		c, err := s.LoadChannel(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteChannel removes a channel record and its checkpoint.
func (s *Store) DeleteChannel(id channel.ID) error {
	_ = s.DeleteCheckpoint(id)
	err := os.Remove(filepath.Join(s.dir, channelsDir, id.String()+sealedExt))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// SaveCheckpoint seals and writes a transmission checkpoint.
func (s *Store) SaveCheckpoint(cp *Checkpoint) error {
	if cp.ChannelID.IsZero() {
		return fmt.Errorf("cannot save checkpoint with zero channel ID")
	}
	doc, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return s.writeSealed(filepath.Join(checkpointsDir, cp.ChannelID.String()+sealedExt), doc)
}

// LoadCheckpoint reads the transmission checkpoint for a channel.
func (s *Store) LoadCheckpoint(id channel.ID) (*Checkpoint, error) {
	doc, err := s.readSealed(filepath.Join(checkpointsDir, id.String()+sealedExt))
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(doc, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// DeleteCheckpoint removes a channel's transmission checkpoint. Deleting a
// checkpoint that does not exist is not an error; cancellation and
// completion both converge on the same state.
func (s *Store) DeleteCheckpoint(id channel.ID) error {
	err := os.Remove(filepath.Join(s.dir, checkpointsDir, id.String()+sealedExt))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// writeSealed seals doc under the device key and writes it atomically.
func (s *Store) writeSealed(rel string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := crypto.RandNonce()
	if err != nil {
		return err
	}
	sealed, err := crypto.Seal(s.key, nonce, nil, doc)
	if err != nil {
		return err
	}
	blob := append(nonce[:], sealed...)

	path := filepath.Join(s.dir, rel)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("persist %s: %w", rel, err)
	}
	return nil
}

func (s *Store) readSealed(rel string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(filepath.Join(s.dir, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	if len(blob) < crypto.NonceSize+crypto.TagSize {
		return nil, fmt.Errorf("read %s: sealed blob too short", rel)
	}

	var nonce [crypto.NonceSize]byte
	copy(nonce[:], blob[:crypto.NonceSize])
	doc, err := crypto.Open(s.key, nonce, nil, blob[crypto.NonceSize:])
	if err != nil {
		return nil, fmt.Errorf("unseal %s: %w", rel, err)
	}
	return doc, nil
}

func loadOrCreateDeviceKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := crypto.HexDecode(strings.TrimSpace(string(data)))
		if err != nil || len(key) != crypto.KeySize {
			return nil, fmt.Errorf("corrupt device key at %s", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read device key: %w", err)
	}

	key, err := crypto.RandBytes(crypto.KeySize)
	if err != nil {
		return nil, err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(crypto.HexEncode(key)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write device key: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("persist device key: %w", err)
	}
	return key, nil
}
