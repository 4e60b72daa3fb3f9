package access

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowed-users.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestLoadSkipsCommentsAndGarbage(t *testing.T) {
	path := writeFile(t, "# household\n123\n\n456\nnot-a-number\n  789  \n")
	l := New(path, zap.NewNop())

	if l.Count() != 3 {
		t.Fatalf("count = %d, want 3", l.Count())
	}
	for _, id := range []int64{123, 456, 789} {
		if !l.IsAllowed(id) {
			t.Errorf("id %d should be allowed", id)
		}
	}
	if l.IsAllowed(999) {
		t.Error("unknown id must be denied")
	}
}

func TestMissingFileDeniesEveryone(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "nope.txt"), zap.NewNop())
	if l.Count() != 0 {
		t.Fatalf("count = %d, want 0", l.Count())
	}
	if l.IsAllowed(1) {
		t.Error("missing file must deny everyone")
	}
}

func TestAddRemovePersist(t *testing.T) {
	path := writeFile(t, "10\n")
	l := New(path, zap.NewNop())

	if err := l.Add(20); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := l.Remove(10); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// a second list reading the same file sees the changes
	l2 := New(path, zap.NewNop())
	if l2.IsAllowed(10) {
		t.Error("removed id survived reload")
	}
	if !l2.IsAllowed(20) {
		t.Error("added id lost on reload")
	}
}

func TestIDsSorted(t *testing.T) {
	path := writeFile(t, "30\n10\n20\n")
	l := New(path, zap.NewNop())
	ids := l.IDs()
	want := []int64{10, 20, 30}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
}
