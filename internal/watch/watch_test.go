package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "reminders.db")
	if err := os.WriteFile(db, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	w, err := New(db, 50*time.Millisecond, zap.NewNop(), func() { calls.Add(1) })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		os.WriteFile(db+"-wal", []byte{byte(i)}, 0o644)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no change reported")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("onChange ran %d times, want 1", n)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "reminders.db")

	var calls atomic.Int32
	w, err := New(db, 20*time.Millisecond, zap.NewNop(), func() { calls.Add(1) })
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(db+"-shm", []byte("x"), 0o644)

	time.Sleep(150 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("onChange ran %d times for unrelated files", n)
	}
}

func TestForeignSkipsUnchangedVersion(t *testing.T) {
	var (
		version int64 = 3
		failing bool
		calls   int
	)
	read := func(context.Context) (int64, error) {
		if failing {
			return 0, errors.New("locked")
		}
		return version, nil
	}

	onChange, err := Foreign(context.Background(), read, zap.NewNop(), func() { calls++ })
	if err != nil {
		t.Fatalf("Foreign failed: %v", err)
	}

	onChange()
	if calls != 0 {
		t.Fatalf("unchanged version reported %d changes", calls)
	}

	version = 4
	onChange()
	onChange()
	if calls != 1 {
		t.Fatalf("new version reported %d changes, want 1", calls)
	}

	failing = true
	onChange()
	if calls != 2 {
		t.Errorf("unreadable version should still report a change, got %d", calls)
	}
}
