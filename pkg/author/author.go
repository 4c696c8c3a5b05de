// Package author implements Operation Authoring (spec.md §4.2): building,
// signing, and locally ingesting an operation the local node originates,
// before it is handed to the gossip layer.
package author

import (
	"fmt"
	"sync"
	"time"

	"github.com/dashchat/spaces-engine/pkg/identity"
	"github.com/dashchat/spaces-engine/pkg/ingest"
	"github.com/dashchat/spaces-engine/pkg/store"
	"github.com/dashchat/spaces-engine/pkg/wire"
)

// SpaceDepMap tracks, for every SpaceControlMessage this node has seen
// (authored or ingested), the hash of the header that carried it. Authoring
// a new control message that depends on an earlier OperationId must
// translate that id into a header hash for the new header's `previous`
// list (spec.md §4.2 step 3); this map is that translation table. Per the
// concurrency model (spec.md §5), it is guarded by its own lock, held only
// during the author and ingest transitions — never across a suspension
// point.
type SpaceDepMap struct {
	mu   sync.RWMutex
	byID map[wire.OperationId]wire.Hash
}

// NewSpaceDepMap builds an empty map.
func NewSpaceDepMap() *SpaceDepMap {
	return &SpaceDepMap{byID: make(map[wire.OperationId]wire.Hash)}
}

// Record associates a control message's OperationId with the header hash
// that carried it.
func (m *SpaceDepMap) Record(id wire.OperationId, headerHash wire.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = headerHash
}

// Lookup returns the header hash that carried OperationId id, if known.
func (m *SpaceDepMap) Lookup(id wire.OperationId) (wire.Hash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.byID[id]
	return h, ok
}

// RecordPayload scans a decoded Payload for SpaceControl messages and
// records each one's header-hash mapping. Called for every successfully
// ingested operation, whether locally authored or received remotely, so
// that future authoring can resolve dependencies on any previously seen
// control message (spec.md §4.2: "maintained during ingest").
func (m *SpaceDepMap) RecordPayload(p wire.Payload, headerHash wire.Hash) {
	if p.Type != wire.PayloadSpaceControl {
		return
	}
	for _, msg := range p.SpaceControl {
		m.Record(msg.ID(), headerHash)
	}
}

// Clock returns the current wall-clock time in seconds, the header
// timestamp source (spec.md §4.2 step 4). A field rather than a bare
// time.Now() call so tests can supply a deterministic clock.
type Clock func() uint64

func systemClock() uint64 { return uint64(time.Now().Unix()) }

// Authorer builds, signs, and locally ingests operations originated by
// this node.
type Authorer struct {
	identity *identity.Identity
	store    store.OperationStore
	ingester *ingest.Ingester
	deps     *SpaceDepMap
	clock    Clock
}

// New builds an Authorer for id, backed by s for seq_num/backlink lookups
// and n for local ingestion. deps is the shared space-dependency
// translation table (also fed by the node's remote-ingest path).
func New(id *identity.Identity, s store.OperationStore, n *ingest.Ingester, deps *SpaceDepMap) *Authorer {
	return &Authorer{identity: id, store: s, ingester: n, deps: deps, clock: systemClock}
}

// WithClock overrides the wall-clock source, for deterministic tests.
func (a *Authorer) WithClock(c Clock) *Authorer {
	a.clock = c
	return a
}

// Author implements spec.md §4.2: builds, signs, and locally ingests an
// operation carrying payload on topic, with extraDeps as additional
// caller-supplied causal dependencies (header hashes, not OperationIds).
func (a *Authorer) Author(topic wire.Topic, payload wire.Payload, extraDeps []wire.Hash) (wire.Operation, error) {
	body, err := payload.Encode()
	if err != nil {
		return wire.Operation{}, fmt.Errorf("encode payload: %w", err)
	}

	previous := append([]wire.Hash(nil), extraDeps...)
	if payload.Type == wire.PayloadSpaceControl {
		translated, err := a.translateControlDependencies(payload.SpaceControl)
		if err != nil {
			return wire.Operation{}, err
		}
		previous = append(previous, translated...)
	}

	self := a.identity.ActorId()
	var seqNum uint64
	var backlink *wire.Hash
	if latest, ok := a.store.Latest(self, topic); ok {
		seqNum = latest.Header.SeqNum + 1
		latestHash, err := latest.Header.Hash()
		if err != nil {
			return wire.Operation{}, fmt.Errorf("hash latest header: %w", err)
		}
		backlink = &latestHash
	}

	payloadHash := wire.Sum(body)
	header := wire.Header{
		Version:     wire.ProtocolVersion,
		PublicKey:   self,
		PayloadSize: uint64(len(body)),
		PayloadHash: &payloadHash,
		Timestamp:   a.clock(),
		SeqNum:      seqNum,
		Backlink:    backlink,
		Previous:    previous,
		Extensions:  wire.Extensions{Topic: topic},
	}
	if err := header.Sign(a.identity); err != nil {
		return wire.Operation{}, fmt.Errorf("sign header: %w", err)
	}

	op := wire.Operation{Header: header, Body: body}

	result, err := a.ingester.Ingest(op, topic)
	if err != nil {
		return wire.Operation{}, fmt.Errorf("ingest locally authored operation: %w", err)
	}
	if result.Outcome != ingest.Complete {
		// Every dependency of a locally authored operation is, by
		// construction, already present in the store (backlink from our
		// own latest(), previous from extraDeps/translated control
		// dependencies) — reaching Retry here means the caller passed a
		// dependency this node has never seen.
		return wire.Operation{}, fmt.Errorf("locally authored operation unexpectedly parked pending %v", result.MissingHashes)
	}

	headerHash, err := header.Hash()
	if err != nil {
		return wire.Operation{}, fmt.Errorf("hash authored header: %w", err)
	}
	a.deps.RecordPayload(payload, headerHash)

	return op, nil
}

// translateControlDependencies implements spec.md §4.2 step 3: computes
// the union of each message's dependencies, excludes batch-internal ids
// (satisfied by the batch itself), and translates the remainder to header
// hashes via the space-dependency map.
func (a *Authorer) translateControlDependencies(msgs []wire.SpaceControlMessage) ([]wire.Hash, error) {
	batchIDs := make(map[wire.OperationId]struct{}, len(msgs))
	for _, m := range msgs {
		batchIDs[m.ID()] = struct{}{}
	}

	seen := make(map[wire.Hash]struct{})
	var out []wire.Hash
	for _, m := range msgs {
		for _, dep := range m.Dependencies() {
			if dep.IsZero() {
				continue
			}
			if _, internal := batchIDs[dep]; internal {
				continue
			}
			headerHash, ok := a.deps.Lookup(dep)
			if !ok {
				return nil, fmt.Errorf("invariant violation: no header hash known for space dependency %s", dep)
			}
			if _, dup := seen[headerHash]; dup {
				continue
			}
			seen[headerHash] = struct{}{}
			out = append(out, headerHash)
		}
	}
	return out, nil
}
