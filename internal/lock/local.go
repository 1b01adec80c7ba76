package lock

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
)

// DefaultStripes is the partition count of a LocalLocker.
const DefaultStripes = 1024

// LocalLocker is an in-process partitioned lock table. Keys hash onto a
// fixed set of stripes, so memory does not grow with the number of cards.
// Two keys sharing a stripe are simply serialized together.
type LocalLocker struct {
	stripes []chan struct{}
	opts    Options
}

// NewLocalLocker creates a lock table with the given number of stripes.
func NewLocalLocker(stripes int, opts Options) *LocalLocker {
	if stripes < 1 {
		stripes = DefaultStripes
	}
	l := &LocalLocker{
		stripes: make([]chan struct{}, stripes),
		opts:    opts.normalized(),
	}
	for i := range l.stripes {
		l.stripes[i] = make(chan struct{}, 1)
	}
	return l
}

// Acquire locks every key, ordering by stripe index.
func (l *LocalLocker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = sortedUnique(keys)
	indexes := l.stripeIndexes(keys)

	return retry(ctx, l.opts, keys, func(attemptCtx context.Context) (Release, error) {
		held := make([]int, 0, len(indexes))
		for _, idx := range indexes {
			select {
			case l.stripes[idx] <- struct{}{}:
				held = append(held, idx)
			case <-attemptCtx.Done():
				l.unlock(held)
				return nil, errBusy
			}
		}

		var once sync.Once
		return func() { once.Do(func() { l.unlock(held) }) }, nil
	})
}

func (l *LocalLocker) unlock(held []int) {
	for i := len(held) - 1; i >= 0; i-- {
		<-l.stripes[held[i]]
	}
}

func (l *LocalLocker) stripeIndexes(keys []string) []int {
	seen := make(map[int]struct{}, len(keys))
	out := make([]int, 0, len(keys))
	for _, k := range keys {
		h := fnv.New32a()
		h.Write([]byte(k))
		idx := int(h.Sum32() % uint32(len(l.stripes)))
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
