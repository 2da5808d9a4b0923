package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rickgao/chatlink/internal/config"
	"github.com/rickgao/chatlink/internal/model"
)

func testMessages() []model.Message {
	at := time.Date(2026, 1, 1, 12, 0, 0, 123456789, time.UTC)
	return []model.Message{
		{
			ID:             "m-1",
			ConversationID: "c-1",
			Content:        "hello",
			Type:           model.TypeText,
			Status:         model.StatusQueued,
			EnqueuedAt:     at,
			Seq:            1,
		},
		{
			ID:             "m-2",
			ConversationID: "c-1",
			ThreadID:       "t-9",
			Type:           model.TypeFile,
			File:           &model.FileRef{Name: "a.png", URL: "https://files/a.png", Size: 42},
			Status:         model.StatusFailed,
			RetryCount:     3,
			LastError:      "write: broken pipe",
			EnqueuedAt:     at.Add(time.Second),
			Seq:            2,
		},
	}
}

func assertMessages(t *testing.T, got, want []model.Message) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.ConversationID != w.ConversationID || g.ThreadID != w.ThreadID {
			t.Errorf("[%d] identity = %s/%s/%s, want %s/%s/%s", i, g.ID, g.ConversationID, g.ThreadID, w.ID, w.ConversationID, w.ThreadID)
		}
		if g.Content != w.Content || g.Type != w.Type || g.Status != w.Status {
			t.Errorf("[%d] = %+v, want %+v", i, g, w)
		}
		if g.RetryCount != w.RetryCount || g.LastError != w.LastError || g.Seq != w.Seq {
			t.Errorf("[%d] retry state = %d/%q/%d, want %d/%q/%d", i, g.RetryCount, g.LastError, g.Seq, w.RetryCount, w.LastError, w.Seq)
		}
		if !g.EnqueuedAt.Equal(w.EnqueuedAt) {
			t.Errorf("[%d] EnqueuedAt = %v, want %v", i, g.EnqueuedAt, w.EnqueuedAt)
		}
		if (g.File == nil) != (w.File == nil) || (w.File != nil && *g.File != *w.File) {
			t.Errorf("[%d] File = %+v, want %+v", i, g.File, w.File)
		}
	}
}

// exerciseStore runs the save/load/replace/clear cycle every backend shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Load() empty = %d messages, want 0", len(got))
	}

	msgs := testMessages()
	if err := s.Save(ctx, msgs); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	assertMessages(t, got, msgs)

	if err := s.Save(ctx, msgs[1:]); err != nil {
		t.Fatalf("Save() replace error: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() after replace: %v", err)
	}
	assertMessages(t, got, msgs[1:])

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() after clear: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load() after clear = %d messages, want 0", len(got))
	}
	if err := s.Clear(ctx); err != nil {
		t.Errorf("Clear() twice: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	if s.Saves() != 2 {
		t.Errorf("Saves() = %d, want 2", s.Saves())
	}
}

func TestMemoryStore_SaveCopies(t *testing.T) {
	s := NewMemoryStore()
	msgs := testMessages()
	if err := s.Save(context.Background(), msgs); err != nil {
		t.Fatal(err)
	}
	msgs[0].Content = "mutated"

	got, _ := s.Load(context.Background())
	if got[0].Content != "hello" {
		t.Errorf("stored Content = %q, want %q", got[0].Content, "hello")
	}
}

func TestFileStore(t *testing.T) {
	tests := []struct {
		name     string
		codec    Codec
		compress bool
	}{
		{"json", JSONCodec{}, false},
		{"cbor", CBORCodec{}, false},
		{"json zstd", JSONCodec{}, true},
		{"cbor zstd", CBORCodec{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "outbox.snap")
			s, err := NewFileStore(path, tt.codec, tt.compress)
			if err != nil {
				t.Fatalf("NewFileStore() error: %v", err)
			}
			exerciseStore(t, s)
		})
	}
}

func TestFileStore_CompressedOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.snap")
	s, err := NewFileStore(path, CBORCodec{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background(), testMessages()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 4 || string(data[:4]) != string(zstdMagic) {
		t.Errorf("file header = %x, want zstd magic", data[:4])
	}

	// A reader without compression still detects the frame.
	plain, _ := NewFileStore(path, CBORCodec{}, false)
	got, err := plain.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	assertMessages(t, got, testMessages())
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(filepath.Join(dir, "outbox.json"), JSONCodec{}, false)
	for i := 0; i < 3; i++ {
		if err := s.Save(context.Background(), testMessages()); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "outbox.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir entries = %v, want [outbox.json]", names)
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, _ := NewFileStore(path, JSONCodec{}, false)
	if _, err := s.Load(context.Background()); err == nil {
		t.Error("Load() expected error for corrupt file")
	}

	if err := os.WriteFile(path, []byte(`{"version":99,"messages":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(context.Background()); err == nil {
		t.Error("Load() expected error for unknown version")
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	s, _ := NewFileStore(filepath.Join(t.TempDir(), "outbox.json"), nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Save(ctx, testMessages()); !errors.Is(err, context.Canceled) {
		t.Errorf("Save() error = %v, want context.Canceled", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	s, err := OpenSQLite(context.Background(), path, "client-a")
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLiteStore_OwnersIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")

	a, err := OpenSQLite(ctx, path, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := OpenSQLite(ctx, path, "b")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.Save(ctx, testMessages()); err != nil {
		t.Fatal(err)
	}
	if err := b.Save(ctx, testMessages()[:1]); err != nil {
		t.Fatal(err)
	}
	if err := b.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := a.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertMessages(t, got, testMessages())
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")

	s, err := OpenSQLite(ctx, path, "a")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, testMessages()); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenSQLite(ctx, path, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertMessages(t, got, testMessages())
}

func TestPostgresStore(t *testing.T) {
	host := os.Getenv("CHATLINK_TEST_PG_HOST")
	if host == "" {
		t.Skip("CHATLINK_TEST_PG_HOST not set")
	}

	cfg := config.SnapshotConfig{
		Backend: "postgres",
		Key:     "test-" + time.Now().Format("150405.000000"),
		Postgres: config.DBConfig{
			Host:     host,
			Name:     os.Getenv("CHATLINK_TEST_PG_NAME"),
			User:     os.Getenv("CHATLINK_TEST_PG_USER"),
			Password: os.Getenv("CHATLINK_TEST_PG_PASSWORD"),
			SSLMode:  "disable",
		},
	}
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.SnapshotConfig
		want    string
		wantErr error
	}{
		{"default", config.SnapshotConfig{}, "*snapshot.MemoryStore", nil},
		{"memory", config.SnapshotConfig{Backend: "memory"}, "*snapshot.MemoryStore", nil},
		{"file", config.SnapshotConfig{Backend: "file", Path: filepath.Join(dir, "s.cbor"), Codec: "cbor"}, "*snapshot.FileStore", nil},
		{"sqlite", config.SnapshotConfig{Backend: "sqlite", Path: filepath.Join(dir, "s.db")}, "*snapshot.SQLiteStore", nil},
		{"unknown", config.SnapshotConfig{Backend: "redis"}, "", ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			defer s.Close()
			if got := typeName(s); got != tt.want {
				t.Errorf("Open() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOpen_BadCodec(t *testing.T) {
	_, err := Open(context.Background(), config.SnapshotConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "s"), Codec: "gob"})
	if err == nil {
		t.Error("Open() expected error for unknown codec")
	}
}

func typeName(s Store) string {
	switch s.(type) {
	case *MemoryStore:
		return "*snapshot.MemoryStore"
	case *FileStore:
		return "*snapshot.FileStore"
	case *SQLiteStore:
		return "*snapshot.SQLiteStore"
	case *PostgresStore:
		return "*snapshot.PostgresStore"
	}
	return "unknown"
}
