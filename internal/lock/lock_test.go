package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	data, err := os.ReadFile(filepath.Join(dir, "LOCK"))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	want := fmt.Sprintf("pid=%d", os.Getpid())
	if !strings.Contains(string(data), want) {
		t.Errorf("lock file %q missing %q", data, want)
	}
}

func TestSecondAcquireReportsHolder(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(dir)
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() = %v, want LockHeldError", err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("held.PID = %d, want %d", held.PID, os.Getpid())
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l1.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	_ = l2.Release()
}

func TestReleaseIsIdempotentAndNilSafe(t *testing.T) {
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	l, err := Acquire(t.TempDir())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"pid=1234\ntime=2026-01-02T03:04:05Z\n", 1234},
		{"time=2026-01-02T03:04:05Z\n", 0},
		{"", 0},
		{"pid=garbage\n", 0},
	}
	for _, tt := range tests {
		if got := parsePID(tt.content); got != tt.want {
			t.Errorf("parsePID(%q) = %d, want %d", tt.content, got, tt.want)
		}
	}
}
