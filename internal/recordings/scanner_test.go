package recordings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fixedProber struct {
	durations map[string]time.Duration
}

func (p *fixedProber) Duration(_ context.Context, path string) (time.Duration, error) {
	if d, ok := p.durations[filepath.Base(path)]; ok {
		return d, nil
	}
	return 0, errors.New("probe failed")
}

func TestDirScanner_WindowAndExtensions(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	write := func(name string, mod time.Time) {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}

	write("in-window.mp4", now)
	write("too-old.mp4", now.Add(-2*time.Hour))
	write("notes.txt", now)

	scanner := &DirScanner{Prober: &fixedProber{durations: map[string]time.Duration{
		"in-window.mp4": 30 * time.Minute,
		"too-old.mp4":   30 * time.Minute,
	}}}

	files, err := scanner.Scan(context.Background(), dir, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(files) != 1 {
		t.Fatalf("len(files) = %d, want 1", len(files))
	}
	if files[0].Name != "in-window.mp4" {
		t.Errorf("scanned %s, want in-window.mp4", files[0].Name)
	}
	if files[0].Duration != 30*time.Minute {
		t.Errorf("duration = %v, want 30m", files[0].Duration)
	}
}

func TestDirScanner_SkipsFailedProbe(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	if err := os.WriteFile(filepath.Join(dir, "broken.mp4"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	scanner := &DirScanner{Prober: &fixedProber{}}
	files, err := scanner.Scan(context.Background(), dir, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("len(files) = %d, want 0", len(files))
	}
}

func TestDirScanner_MissingDir(t *testing.T) {
	scanner := &DirScanner{Prober: &fixedProber{}}
	_, err := scanner.Scan(context.Background(), filepath.Join(t.TempDir(), "missing"), time.Now(), time.Now())
	if !errors.Is(err, ErrScanFailed) {
		t.Errorf("err = %v, want ErrScanFailed", err)
	}
}

func TestIsStableCtx(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.mp4")
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}

	stable, err := IsStableCtx(context.Background(), path, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("IsStableCtx: %v", err)
	}
	if !stable {
		t.Error("unchanged file should be stable")
	}

	// Missing file is not stable but not an error either.
	stable, err = IsStableCtx(context.Background(), filepath.Join(dir, "gone.mp4"), time.Millisecond)
	if err != nil || stable {
		t.Errorf("missing file: stable=%v err=%v, want false nil", stable, err)
	}
}

func TestWaitForFile_AlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.mp4")
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := WaitForFile(context.Background(), path, time.Second); err != nil {
		t.Errorf("WaitForFile: %v", err)
	}
}

func TestWaitForFile_AppearsLater(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.mp4")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, []byte("data"), 0o600)
	}()

	if err := WaitForFile(context.Background(), path, 5*time.Second); err != nil {
		t.Errorf("WaitForFile: %v", err)
	}
}

func TestWaitForFile_Timeout(t *testing.T) {
	dir := t.TempDir()
	err := WaitForFile(context.Background(), filepath.Join(dir, "never.mp4"), 50*time.Millisecond)
	if err == nil {
		t.Error("expected timeout error")
	}
}
