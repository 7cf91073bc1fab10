package eventlog

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// streamNamePattern keeps stream names filesystem-safe.
var streamNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Registry opens named streams under one data directory on demand. The
// server and the pipeline share a registry so both address the same files.
type Registry struct {
	dir        string
	maxEntries int
	logger     *zap.SugaredLogger

	mu   sync.Mutex
	logs map[string]*Log
}

// NewRegistry creates a registry rooted at dir. Streams are stored as
// <dir>/<name>.jsonl.
func NewRegistry(dir string, maxEntries int, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		dir:        dir,
		maxEntries: maxEntries,
		logger:     logger,
		logs:       make(map[string]*Log),
	}
}

// Get returns the log for name, opening it lazily. Names are restricted to
// [a-zA-Z0-9_-] so a stream name can never escape the data directory.
func (r *Registry) Get(name string) (*Log, error) {
	if !streamNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid stream name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.logs[name]; ok {
		return l, nil
	}
	l := Open(filepath.Join(r.dir, name+".jsonl"), r.maxEntries, r.logger)
	r.logs[name] = l
	return l, nil
}

// Names lists the streams opened so far, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.logs))
	for name := range r.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
