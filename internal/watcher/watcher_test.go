package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type batches struct {
	mu  sync.Mutex
	got [][]string
}

func (b *batches) record(paths []string) {
	b.mu.Lock()
	b.got = append(b.got, paths)
	b.mu.Unlock()
}

func (b *batches) snapshot() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.got...)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func startWatcher(t *testing.T, roots, exts []string, recursive bool, b *batches) *Watcher {
	t.Helper()
	w := NewWatcher(roots, exts, recursive, b.record, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_batchesMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	b := &batches{}
	startWatcher(t, []string{dir}, []string{".csv", ".xlsx"}, false, b)

	a := filepath.Join(dir, "a.csv")
	c := filepath.Join(dir, "c.xlsx")
	for _, p := range []string{a, c, filepath.Join(dir, "notes.txt")} {
		if err := writeFile(p, "x"); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return len(b.snapshot()) > 0 })
	time.Sleep(200 * time.Millisecond)

	got := b.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected one batch, got %v", got)
	}
	if diff := cmp.Diff([]string{a, c}, got[0]); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcher_fileRoot(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.csv")
	if err := writeFile(input, "v1"); err != nil {
		t.Fatal(err)
	}
	b := &batches{}
	startWatcher(t, []string{input}, []string{".csv"}, false, b)

	if err := writeFile(filepath.Join(dir, "other.csv"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := b.snapshot(); len(got) != 0 {
		t.Fatalf("sibling change should be ignored, got %v", got)
	}

	if err := writeFile(input, "v2"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(b.snapshot()) > 0 })
	got := b.snapshot()
	if len(got) != 1 || !cmp.Equal(got[0], []string{input}) {
		t.Errorf("got %v, want [[%s]]", got, input)
	}
}

func TestWatcher_recursiveNewDirectory(t *testing.T) {
	dir := t.TempDir()
	b := &batches{}
	startWatcher(t, []string{dir}, []string{".csv"}, true, b)

	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	// Let the new directories be registered before writing into them.
	time.Sleep(100 * time.Millisecond)
	deep := filepath.Join(nested, "deep.csv")
	if err := writeFile(deep, "x"); err != nil {
		t.Fatal(err)
	}

	found := func() bool {
		for _, batch := range b.snapshot() {
			for _, p := range batch {
				if p == deep {
					return true
				}
			}
		}
		return false
	}
	waitFor(t, found)
	if !found() {
		t.Errorf("expected %s to be reported, got %v", deep, b.snapshot())
	}
}

func TestWatcher_Start_missingRoot(t *testing.T) {
	w := NewWatcher([]string{filepath.Join(t.TempDir(), "missing")}, nil, false, nil)
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error for missing root")
	}
}

func TestWatcher_Roots(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, []string{dir}, nil, false, &batches{})
	roots := w.Roots()
	if len(roots) != 1 || roots[0] != filepath.Clean(dir) {
		t.Errorf("Roots() = %v", roots)
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"b.csv":      "x",
		"a.xlsx":     "x",
		"skip.txt":   "x",
		"sub/c.csv":  "x",
		"sub/d.json": "x",
	}
	for name, content := range files {
		if err := writeFile(filepath.Join(dir, name), content); err != nil {
			t.Fatal(err)
		}
	}
	exts := []string{".csv", ".xlsx"}
	single := filepath.Join(dir, "skip.txt")

	tests := []struct {
		name      string
		roots     []string
		recursive bool
		want      []string
	}{
		{"flat", []string{dir}, false, []string{filepath.Join(dir, "a.xlsx"), filepath.Join(dir, "b.csv")}},
		{"recursive", []string{dir}, true, []string{filepath.Join(dir, "a.xlsx"), filepath.Join(dir, "b.csv"), filepath.Join(sub, "c.csv")}},
		{"file root kept regardless of extension", []string{single, single}, false, []string{single}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ListFiles(tt.roots, exts, tt.recursive)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ListFiles mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := ListFiles([]string{filepath.Join(dir, "missing")}, exts, false); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.csv", []string{".csv"}, true},
		{"/a/b.XLSX", []string{".xlsx"}, true},
		{"/a/b.md", []string{".csv"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.csv", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
