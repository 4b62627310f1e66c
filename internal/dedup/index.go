package dedup

import (
	"container/list"
	"sync"
)

// DefaultWindow is used when NewIndex is given a non-positive size.
const DefaultWindow = 32

// Index is a bounded, ordered set of recently recorded fingerprints.
// It is safe for concurrent use. Nothing is persisted; a restarted daemon
// starts with an empty window.
type Index struct {
	mu    sync.Mutex
	size  int
	order *list.List // front is most recent
	items map[Fingerprint]*list.Element
}

// NewIndex creates an index remembering at most size fingerprints.
func NewIndex(size int) *Index {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Index{
		size:  size,
		order: list.New(),
		items: make(map[Fingerprint]*list.Element, size),
	}
}

// ShouldAdmit returns false if fp is in the recent window.
func (i *Index) ShouldAdmit(fp Fingerprint) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, seen := i.items[fp]
	return !seen
}

// Record marks fp as the most recently seen fingerprint, evicting the oldest
// one when the window is full.
func (i *Index) Record(fp Fingerprint) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if el, ok := i.items[fp]; ok {
		i.order.MoveToFront(el)
		return
	}
	i.items[fp] = i.order.PushFront(fp)
	for i.order.Len() > i.size {
		oldest := i.order.Back()
		i.order.Remove(oldest)
		delete(i.items, oldest.Value.(Fingerprint))
	}
}

// Reset forgets every fingerprint. Called after the history is cleared so
// previously seen content can be captured again.
func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.order.Init()
	i.items = make(map[Fingerprint]*list.Element, i.size)
}

func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.order.Len()
}
