package access

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// List is a file-backed allow list of Telegram user ids. One id per line,
// blank lines and lines starting with '#' are ignored. A missing file means
// nobody is allowed.
type List struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	allowed map[int64]struct{}
}

func New(path string, log *zap.Logger) *List {
	l := &List{path: path, log: log, allowed: make(map[int64]struct{})}
	if err := l.Reload(); err != nil {
		log.Warn("allowed users file not loaded, denying everyone",
			zap.String("path", path), zap.Error(err))
	}
	return l
}

// Reload re-reads the allow list from disk, replacing the in-memory set.
func (l *List) Reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	allowed := make(map[int64]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			continue
		}
		allowed[id] = struct{}{}
	}
	l.mu.Lock()
	l.allowed = allowed
	l.mu.Unlock()
	l.log.Info("allowed users loaded", zap.Int("count", len(allowed)), zap.String("path", l.path))
	return nil
}

func (l *List) IsAllowed(id int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.allowed[id]
	return ok
}

// Add puts an id on the allow list and persists it.
func (l *List) Add(id int64) error {
	l.mu.Lock()
	l.allowed[id] = struct{}{}
	l.mu.Unlock()
	return l.save()
}

// Remove drops an id from the allow list and persists it.
func (l *List) Remove(id int64) error {
	l.mu.Lock()
	delete(l.allowed, id)
	l.mu.Unlock()
	return l.save()
}

// IDs returns the allowed ids in ascending order.
func (l *List) IDs() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]int64, 0, len(l.allowed))
	for id := range l.allowed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l *List) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.allowed)
}

func (l *List) save() error {
	ids := l.IDs()
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, strconv.FormatInt(id, 10))
	}
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(l.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("save allowed users: %w", err)
	}
	return nil
}
