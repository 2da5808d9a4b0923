package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rickgao/chatlink/internal/model"
)

// fileVersion is the current snapshot file layout.
const fileVersion = 1

type fileSnapshot struct {
	Version  int             `json:"version" cbor:"version"`
	Messages []model.Message `json:"messages" cbor:"messages"`
}

// FileStore keeps the snapshot in a single file. Saves write a temporary
// file in the same directory and rename it over the old one, so a crash
// leaves either the previous or the new snapshot.
type FileStore struct {
	path     string
	codec    Codec
	compress bool
}

// NewFileStore creates a FileStore writing to path. The parent directory
// is created if missing.
func NewFileStore(path string, codec Codec, compress bool) (*FileStore, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{path: path, codec: codec, compress: compress}, nil
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string { return s.path }

// Save atomically replaces the snapshot file.
func (s *FileStore) Save(ctx context.Context, msgs []model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := s.codec.Marshal(fileSnapshot{Version: fileVersion, Messages: msgs})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if s.compress {
		data = compress(data)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot file. A missing file is an empty snapshot.
// Compressed files are detected by their zstd header.
func (s *FileStore) Load(ctx context.Context) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	data, err = decompress(data)
	if err != nil {
		return nil, err
	}

	var snap fileSnapshot
	if err := s.codec.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != fileVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snap.Version, fileVersion)
	}
	if snap.Messages == nil {
		snap.Messages = []model.Message{}
	}
	return snap.Messages, nil
}

// Clear deletes the snapshot file.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
