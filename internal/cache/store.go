package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Topic names a category of cached printer data.
type Topic int

const (
	TopicStatus Topic = iota
	TopicPercentage
	TopicFilament
	TopicPhase
)

// Topics lists every topic in display order.
var Topics = []Topic{TopicStatus, TopicPercentage, TopicFilament, TopicPhase}

func (t Topic) String() string {
	switch t {
	case TopicStatus:
		return "status"
	case TopicPercentage:
		return "percentage"
	case TopicFilament:
		return "filament"
	case TopicPhase:
		return "phase"
	default:
		return fmt.Sprintf("topic(%d)", int(t))
	}
}

// Key identifies one cache entry.
type Key struct {
	Topic Topic
	ID    string
}

// Entry is the last value written for a key.
type Entry struct {
	Key
	Value         any
	LastWrittenAt time.Time
}

// Age returns how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.LastWrittenAt)
}

// Write is one pending mutation. When Unchanged is set and reports true for
// the current value, the write is skipped and nobody is notified.
type Write struct {
	Topic     Topic
	ID        string
	Value     any
	Unchanged func(prev any) bool
}

// Store is the single mutation funnel for cached printer data. Values are
// treated as immutable once written. The zero value is ready to use.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]Entry
	subs    map[Key]map[uint64]func(Entry)
	nextSub uint64

	// Deliveries queue in write order; one goroutine drains at a time.
	queue    []delivery
	draining bool

	// Now overrides the clock used for LastWrittenAt; nil uses time.Now.
	Now func() time.Time
}

type delivery struct {
	entry Entry
	fns   []func(Entry)
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the entry for a key. The boolean is false when nothing has been
// written yet.
func (s *Store) Get(topic Topic, id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[Key{Topic: topic, ID: id}]
	return e, ok
}

// Set replaces the value for a key and notifies its subscribers.
func (s *Store) Set(topic Topic, id string, value any) {
	s.Apply(Write{Topic: topic, ID: id, Value: value})
}

// SetIfChanged writes value unless unchanged reports the current value as
// equivalent. It returns whether a write happened.
func (s *Store) SetIfChanged(topic Topic, id string, value any, unchanged func(prev any) bool) bool {
	return len(s.Apply(Write{Topic: topic, ID: id, Value: value, Unchanged: unchanged})) > 0
}

// Apply performs all writes under one lock, then notifies subscribers of the
// written keys. Readers never observe a subset of the batch. It returns the
// keys that were actually written.
//
// Notifications for all writers are delivered in the order the writes were
// applied, so the last value a subscriber sees is the cached one. When Apply
// is called from inside a callback its notifications are queued behind the
// running delivery instead of nesting.
func (s *Store) Apply(writes ...Write) []Key {
	if len(writes) == 0 {
		return nil
	}
	now := s.now()

	s.mu.Lock()
	if s.entries == nil {
		s.entries = make(map[Key]Entry)
	}
	written := make([]Key, 0, len(writes))
	for _, w := range writes {
		key := Key{Topic: w.Topic, ID: w.ID}
		if w.Unchanged != nil {
			if prev, ok := s.entries[key]; ok && w.Unchanged(prev.Value) {
				continue
			}
		}
		entry := Entry{Key: key, Value: w.Value, LastWrittenAt: now}
		s.entries[key] = entry
		written = append(written, key)
		if fns := s.subscribersLocked(key); len(fns) > 0 {
			s.queue = append(s.queue, delivery{entry: entry, fns: fns})
		}
	}
	s.drainUnlock()
	return written
}

// Subscribe registers fn for one key. If the key already holds a value, fn is
// called with it first, ordered before any later write. Callbacks run on a
// writer's goroutine after the write is visible and must not block; they may
// read the store or call Apply. The returned function removes the
// subscription and is safe to call repeatedly.
func (s *Store) Subscribe(topic Topic, id string, fn func(Entry)) func() {
	key := Key{Topic: topic, ID: id}

	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[Key]map[uint64]func(Entry))
	}
	if s.subs[key] == nil {
		s.subs[key] = make(map[uint64]func(Entry))
	}
	s.nextSub++
	token := s.nextSub
	s.subs[key][token] = fn
	if cur, ok := s.entries[key]; ok {
		s.queue = append(s.queue, delivery{entry: cur, fns: []func(Entry){fn}})
	}
	s.drainUnlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[key], token)
			if len(s.subs[key]) == 0 {
				delete(s.subs, key)
			}
		})
	}
}

func (s *Store) subscribersLocked(key Key) []func(Entry) {
	subs := s.subs[key]
	if len(subs) == 0 {
		return nil
	}
	fns := make([]func(Entry), 0, len(subs))
	for _, fn := range subs {
		fns = append(fns, fn)
	}
	return fns
}

// drainUnlock releases s.mu and, unless another goroutine is already
// draining, delivers queued notifications until the queue is empty. Callbacks
// run without the lock held.
func (s *Store) drainUnlock() {
	if s.draining || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for {
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		for _, fn := range d.fns {
			fn(d.entry)
		}

		s.mu.Lock()
	}
}

// Subscribers returns the number of live subscriptions for a key.
func (s *Store) Subscribers(topic Topic, id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[Key{Topic: topic, ID: id}])
}

// Keys lists every written key ordered by id, then topic.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ID != keys[j].ID {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].Topic < keys[j].Topic
	})
	return keys
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
