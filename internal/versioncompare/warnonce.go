package versioncompare

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// warnOnce rate-limits a recurring "unparseable version/tag" diagnostic to
// once per distinct input value, backed by a small bounded LRU so a
// pathological stream of unique garbage inputs can't grow this without
// bound.
type warnOnce struct {
	mu   sync.Mutex
	seen *lru.Cache[string, struct{}]
	log  *slog.Logger
}

func newWarnOnce(logger *slog.Logger) *warnOnce {
	if logger == nil {
		logger = slog.Default()
	}
	seen, err := lru.New[string, struct{}](1024)
	if err != nil {
		// Only returns an error for a non-positive size, which is
		// impossible with the literal above.
		panic(err)
	}
	return &warnOnce{seen: seen, log: logger}
}

func (w *warnOnce) warn(comparator, input, reason string) {
	w.mu.Lock()
	_, already := w.seen.Get(input)
	if !already {
		w.seen.Add(input, struct{}{})
	}
	w.mu.Unlock()

	if already {
		return
	}
	w.log.Warn("unparseable version input", "comparator", comparator, "input", input, "reason", reason)
}
