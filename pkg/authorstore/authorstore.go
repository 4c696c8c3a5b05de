// Package authorstore implements the AuthorStore / TopicLogMap (spec.md
// §4.4): the map of which authors' logs the local node holds for a given
// topic, the input the sync protocol uses to decide whose logs to pull.
package authorstore

import (
	"sort"
	"sync"

	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

// AuthorStore maintains topic -> set<ActorId>, updated on local
// subscription, on receipt of any operation in a topic, and on discovery
// of a new peer (spec.md §4.4).
type AuthorStore struct {
	mu      sync.RWMutex
	authors map[wire.Topic]map[identity.ActorId]struct{}
}

// New builds an empty AuthorStore.
func New() *AuthorStore {
	return &AuthorStore{authors: make(map[wire.Topic]map[identity.ActorId]struct{})}
}

// Add registers author as holding a log under topic. Used for local
// subscription (adds self), operation receipt (adds the author), and
// discovery-driven inbox registration (spec.md §4.4, §4.8 "Bootstrap
// ordering").
func (s *AuthorStore) Add(topic wire.Topic, author identity.ActorId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.authors[topic]
	if !ok {
		set = make(map[identity.ActorId]struct{})
		s.authors[topic] = set
	}
	set[author] = struct{}{}
}

// Get returns the known authors for topic, the input the sync protocol
// uses to request each author's log (spec.md §4.4,
// "TopicLogMap::get(topic)").
func (s *AuthorStore) Get(topic wire.Topic) []identity.ActorId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.authors[topic]
	out := make([]identity.ActorId, 0, len(set))
	for author := range set {
		out = append(out, author)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Has reports whether author is known under topic.
func (s *AuthorStore) Has(topic wire.Topic, author identity.ActorId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.authors[topic][author]
	return ok
}

// Topics returns every topic this store currently tracks at least one
// author for.
func (s *AuthorStore) Topics() []wire.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.Topic, 0, len(s.authors))
	for topic := range s.authors {
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
