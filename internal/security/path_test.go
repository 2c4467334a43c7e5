package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathGuardCheck(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	inside := filepath.Join(root, "docs", "a.md")
	if err := os.MkdirAll(filepath.Dir(inside), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inside, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	g, err := NewPathGuard([]string{root})
	if err != nil {
		t.Fatalf("NewPathGuard: %v", err)
	}

	t.Run("inside root", func(t *testing.T) {
		got, err := g.Check(inside)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !strings.HasPrefix(got, root) {
			t.Errorf("got %q", got)
		}
	})

	t.Run("root itself", func(t *testing.T) {
		if _, err := g.Check(root); err != nil {
			t.Errorf("Check: %v", err)
		}
	})

	t.Run("outside root", func(t *testing.T) {
		if _, err := g.Check(filepath.Join(outside, "b.md")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("traversal", func(t *testing.T) {
		if _, err := g.Check(filepath.Join(root, "..", "escape.md")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("nonexistent inside root", func(t *testing.T) {
		if _, err := g.Check(filepath.Join(root, "new.md")); err != nil {
			t.Errorf("Check: %v", err)
		}
	})

	t.Run("symlink escape", func(t *testing.T) {
		target := filepath.Join(outside, "secret.md")
		if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		link := filepath.Join(root, "link.md")
		if err := os.Symlink(target, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		if _, err := g.Check(link); err == nil {
			t.Error("expected error for symlink escape")
		}
	})
}

func TestPathGuardDefaultsToWorkingDirectory(t *testing.T) {
	g, err := NewPathGuard(nil)
	if err != nil {
		t.Fatalf("NewPathGuard: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Check(wd); err != nil {
		t.Errorf("Check(wd): %v", err)
	}
	if _, err := g.Check(string(filepath.Separator)); err == nil {
		t.Error("expected error for filesystem root")
	}
}
