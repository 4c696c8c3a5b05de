// Package ingest implements Ingest & Dependency Buffer (spec.md §4.3):
// header/payload verification, per-author log-contiguity checking, and a
// bounded out-of-order park-and-retry buffer for operations whose
// `previous` hashes are not yet in the store.
package ingest

import (
	"fmt"
	"sync"

	"github.com/dashchat/spaces-engine/internal/logging"
	"github.com/dashchat/spaces-engine/pkg/authorstore"
	"github.com/dashchat/spaces-engine/pkg/store"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

var logger = logging.New("ingest")

// DefaultBufferCapacity bounds the dependency buffer when Config.Capacity
// is left at zero.
const DefaultBufferCapacity = 4096

// Outcome classifies the result of Ingest (spec.md §4.3:
// "Complete(op) | Retry(header, missing_hashes)").
type Outcome int

const (
	// Complete means the operation was inserted (or was already present
	// as a duplicate, which also resolves to Complete but is flagged via
	// Duplicate so callers can skip downstream delivery).
	Complete Outcome = iota
	// Retry means the operation is missing dependencies and has been
	// parked; it will be retried automatically as those hashes arrive.
	Retry
)

// Result is the return value of Ingest.
type Result struct {
	Outcome Outcome
	// Op is populated when Outcome == Complete.
	Op wire.Operation
	// Duplicate is true when Outcome == Complete because hash was
	// already present (spec.md §4.3: "skip downstream processing").
	Duplicate bool
	// MissingHashes is populated when Outcome == Retry.
	MissingHashes []wire.Hash
}

// Stats reports the dependency-buffer diagnostics named in SPEC_FULL.md's
// supplemented features (eviction counter), mirroring the original's
// diagnostic counters for dropped parked operations.
type Stats struct {
	Parked  int
	Evicted uint64
}

type parkedEntry struct {
	op      wire.Operation
	topic   wire.Topic
	missing map[wire.Hash]struct{}
	seq     uint64 // monotonic arrival order, used for oldest-first eviction
}

// Config configures an Ingester.
type Config struct {
	// Capacity bounds the number of parked operations. Zero uses
	// DefaultBufferCapacity.
	Capacity int
}

// Ingester implements spec.md §4.3 against a concrete OperationStore and
// AuthorStore.
type Ingester struct {
	store   store.OperationStore
	authors *authorstore.AuthorStore

	mu       sync.Mutex
	capacity int
	parked   map[wire.Hash]*parkedEntry   // keyed by the parked op's own hash
	waiters  map[wire.Hash][]wire.Hash    // missing hash -> parked op hashes awaiting it
	arrival  uint64
	evicted  uint64
}

// New builds an Ingester over the given store and author index.
func New(s store.OperationStore, authors *authorstore.AuthorStore, cfg Config) *Ingester {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Ingester{
		store:    s,
		authors:  authors,
		capacity: capacity,
		parked:   make(map[wire.Hash]*parkedEntry),
		waiters:  make(map[wire.Hash][]wire.Hash),
	}
}

// Ingest runs spec.md §4.3 steps 1-4 against op on topic.
func (n *Ingester) Ingest(op wire.Operation, topic wire.Topic) (Result, error) {
	if err := op.Verify(); err != nil {
		return Result{}, err
	}

	hash, err := op.Id()
	if err != nil {
		return Result{}, fmt.Errorf("compute operation id: %w", err)
	}

	if n.store.Has(hash) {
		return Result{Outcome: Complete, Op: op, Duplicate: true}, nil
	}

	if err := n.checkContiguity(op.Header, topic); err != nil {
		return Result{}, err
	}

	missing := n.missingDependencies(op.Header)
	if len(missing) > 0 {
		n.park(hash, op, topic, missing)
		return Result{Outcome: Retry, MissingHashes: missing}, nil
	}

	if err := n.commit(hash, op, topic); err != nil {
		return Result{}, err
	}
	return Result{Outcome: Complete, Op: op}, nil
}

// checkContiguity enforces spec.md §4.3 step 2: backlink must equal the
// hash of the author's current latest header in topic, or both must be
// absent when seq_num == 0.
func (n *Ingester) checkContiguity(h wire.Header, topic wire.Topic) error {
	latest, ok := n.store.Latest(h.PublicKey, topic)
	if !ok {
		if h.SeqNum != 0 || h.Backlink != nil {
			return wire.ErrLogGap(fmt.Sprintf("expected seq_num=0 and no backlink for first operation in log, got seq_num=%d", h.SeqNum))
		}
		return nil
	}

	latestHash, err := latest.Header.Hash()
	if err != nil {
		return fmt.Errorf("hash latest header: %w", err)
	}
	if h.Backlink == nil || *h.Backlink != latestHash {
		return wire.ErrLogGap(fmt.Sprintf("backlink does not match latest header hash for author %s", h.PublicKey))
	}
	if h.SeqNum != latest.Header.SeqNum+1 {
		return wire.ErrLogGap(fmt.Sprintf("expected seq_num=%d, got %d", latest.Header.SeqNum+1, h.SeqNum))
	}
	return nil
}

// missingDependencies returns the subset of h.Previous not yet in the
// store (spec.md §4.3 step 3).
func (n *Ingester) missingDependencies(h wire.Header) []wire.Hash {
	var missing []wire.Hash
	for _, dep := range h.Previous {
		if !n.store.Has(dep) {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (n *Ingester) commit(hash wire.Hash, op wire.Operation, topic wire.Topic) error {
	if _, err := n.store.Insert(hash, op.Header, op.Body, topic); err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	n.authors.Add(topic, op.Header.PublicKey)
	return nil
}

// park buffers op pending its missing dependencies, evicting the oldest
// parked entry if the buffer is full (spec.md §4.3: "The buffer MUST be
// bounded; on overflow the oldest parked entry is dropped with a logged
// warning").
func (n *Ingester) park(hash wire.Hash, op wire.Operation, topic wire.Topic, missing []wire.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, already := n.parked[hash]; already {
		return
	}

	if len(n.parked) >= n.capacity {
		n.evictOldestLocked()
	}

	set := make(map[wire.Hash]struct{}, len(missing))
	for _, m := range missing {
		set[m] = struct{}{}
		n.waiters[m] = append(n.waiters[m], hash)
	}

	n.arrival++
	n.parked[hash] = &parkedEntry{op: op, topic: topic, missing: set, seq: n.arrival}
}

func (n *Ingester) evictOldestLocked() {
	var oldestHash wire.Hash
	var oldestSeq uint64
	first := true
	for h, entry := range n.parked {
		if first || entry.seq < oldestSeq {
			oldestHash, oldestSeq, first = h, entry.seq, false
		}
	}
	if first {
		return
	}
	n.removeParkedLocked(oldestHash)
	n.evicted++
	logger.Printf("dependency buffer full, dropping parked operation %s", oldestHash)
}

func (n *Ingester) removeParkedLocked(hash wire.Hash) {
	entry, ok := n.parked[hash]
	if !ok {
		return
	}
	for missing := range entry.missing {
		waiters := n.waiters[missing]
		for i, w := range waiters {
			if w == hash {
				waiters = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		if len(waiters) == 0 {
			delete(n.waiters, missing)
		} else {
			n.waiters[missing] = waiters
		}
	}
	delete(n.parked, hash)
}

// Retry re-evaluates every parked operation waiting on hash, committing
// any that become fully satisfied. It recurses transitively: committing a
// parked operation can itself satisfy other parked operations.
func (n *Ingester) Retry(hash wire.Hash) ([]wire.Operation, error) {
	var completed []wire.Operation
	frontier := []wire.Hash{hash}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		n.mu.Lock()
		candidates := append([]wire.Hash(nil), n.waiters[current]...)
		n.mu.Unlock()

		for _, candidateHash := range candidates {
			n.mu.Lock()
			entry, ok := n.parked[candidateHash]
			if !ok {
				n.mu.Unlock()
				continue
			}
			delete(entry.missing, current)
			ready := len(entry.missing) == 0
			if ready {
				n.removeParkedLocked(candidateHash)
			}
			n.mu.Unlock()

			if !ready {
				continue
			}
			if err := n.commit(candidateHash, entry.op, entry.topic); err != nil {
				return completed, err
			}
			completed = append(completed, entry.op)
			frontier = append(frontier, candidateHash)
		}
	}

	return completed, nil
}

// Stats returns the current buffer occupancy and lifetime eviction count.
func (n *Ingester) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Stats{Parked: len(n.parked), Evicted: n.evicted}
}
