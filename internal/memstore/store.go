// Package memstore is an in-memory GraphStore. It computes every step with
// the unify arena and swaps the result in whole, so a failed call leaves
// the store unchanged.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/unify"
)

// Options configures relationship handling.
type Options struct {
	UsageRelationship     string   // counted as usage by root selection
	RedirectRelationships []string // moved to roots by redirection
}

// Store holds stops, cluster state and relationships in memory. It is safe
// for concurrent use. RedirectRelationships takes the lock once per batch;
// every other method holds it for its whole duration.
type Store struct {
	mu        sync.Mutex
	stops     map[stops.ID]stops.Stop
	order     []stops.ID
	roots     map[stops.ID]bool
	edges     []unify.Edge
	positions map[stops.ID][2]float64
	rels      []stops.Relationship
	nextRelID int64

	usageKind string
	kinds     unify.KindSet

	failures map[string]error
	loads    int
}

// Compile-time check.
var _ unify.GraphStore = (*Store)(nil)

// New returns an empty store.
func New(opts Options) (*Store, error) {
	if opts.UsageRelationship == "" {
		opts.UsageRelationship = "STOPS_AT"
	}
	if !stops.ValidRelationshipKind(opts.UsageRelationship) {
		return nil, &stops.PreconditionError{Field: "usage relationship", Value: opts.UsageRelationship, Reason: "must match ^[A-Z][A-Z0-9_]*$"}
	}
	if len(opts.RedirectRelationships) == 0 {
		opts.RedirectRelationships = []string{opts.UsageRelationship}
	}
	kinds, err := unify.NewKindSet(opts.RedirectRelationships...)
	if err != nil {
		return nil, err
	}
	return &Store{
		stops:     make(map[stops.ID]stops.Stop),
		roots:     make(map[stops.ID]bool),
		positions: make(map[stops.ID][2]float64),
		usageKind: opts.UsageRelationship,
		kinds:     kinds,
		failures:  make(map[string]error),
	}, nil
}

// FailNext makes the next call of the named operation (for example
// "MergeByIdentity") return err without touching state.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

// AddStops imports stops. Identifiers are validated and must be new.
func (s *Store) AddStops(list ...stops.Stop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := stops.ValidateStops(list); err != nil {
		return err
	}
	for _, st := range list {
		if _, ok := s.stops[st.ID]; ok {
			return &stops.PreconditionError{Field: "stop id", Value: st.ID, Reason: "already imported"}
		}
	}
	for _, st := range list {
		s.stops[st.ID] = st
		s.order = append(s.order, st.ID)
	}
	stops.SortIDs(s.order)
	return nil
}

// AddRelationship attaches a relationship of kind from source to a stop and
// returns its ID.
func (s *Store) AddRelationship(kind, source string, stop stops.ID, props map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !stops.ValidRelationshipKind(kind) {
		return 0, &stops.PreconditionError{Field: "relationship kind", Value: kind, Reason: "must match ^[A-Z][A-Z0-9_]*$"}
	}
	if _, ok := s.stops[stop]; !ok {
		return 0, &stops.PreconditionError{Field: "stop id", Value: stop, Reason: "unknown stop"}
	}
	s.nextRelID++
	s.rels = append(s.rels, stops.Relationship{
		ID: s.nextRelID, Kind: kind, Source: source, Stop: stop, Properties: copyProps(props),
	})
	return s.nextRelID, nil
}

// Relationships returns a copy of all relationships ordered by ID.
func (s *Store) Relationships() []stops.Relationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stops.Relationship, len(s.rels))
	for i, r := range s.rels {
		r.Properties = copyProps(r.Properties)
		out[i] = r
	}
	return out
}

// SetRaw overwrites cluster state without any checks. It exists so that
// integrity checks can be exercised against broken state.
func (s *Store) SetRaw(roots []stops.ID, edges []unify.Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = make(map[stops.ID]bool, len(roots))
	for _, r := range roots {
		s.roots[r] = true
	}
	s.edges = append([]unify.Edge(nil), edges...)
}

func copyProps(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (s *Store) snapshot() unify.Snapshot {
	snap := unify.Snapshot{
		Stops: append([]stops.ID(nil), s.order...),
		Edges: append([]unify.Edge(nil), s.edges...),
	}
	for r := range s.roots {
		snap.Roots = append(snap.Roots, r)
	}
	stops.SortIDs(snap.Roots)
	return snap
}

func (s *Store) load() (*unify.State, error) {
	s.loads++
	return unify.LoadState(s.snapshot())
}

func (s *Store) commit(st *unify.State) {
	snap := st.Snapshot()
	s.roots = make(map[stops.ID]bool, len(snap.Roots))
	for _, r := range snap.Roots {
		s.roots[r] = true
	}
	s.edges = snap.Edges
	for r := range s.positions {
		if !s.roots[r] {
			delete(s.positions, r)
		}
	}
}

// ListStops returns all stops ordered by identifier.
func (s *Store) ListStops(ctx context.Context) ([]stops.Stop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListStops"); err != nil {
		return nil, err
	}
	out := make([]stops.Stop, len(s.order))
	for i, id := range s.order {
		out[i] = s.stops[id]
	}
	return out, nil
}

// HasClusters reports whether any root role or membership edge exists.
func (s *Store) HasClusters(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("HasClusters"); err != nil {
		return false, err
	}
	return len(s.roots) > 0 || len(s.edges) > 0, nil
}

// ClearClusters removes all membership edges and root roles.
func (s *Store) ClearClusters(ctx context.Context) (unify.ClearResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ClearClusters"); err != nil {
		return unify.ClearResult{}, err
	}
	res := unify.ClearResult{EdgesRemoved: len(s.edges), RolesRemoved: len(s.roots)}
	s.roots = make(map[stops.ID]bool)
	s.edges = nil
	s.positions = make(map[stops.ID][2]float64)
	return res, nil
}

// ReplaceClusters installs groups as the only clusters.
func (s *Store) ReplaceClusters(ctx context.Context, groups [][]stops.ID) (unify.ReplaceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReplaceClusters"); err != nil {
		return unify.ReplaceResult{}, err
	}
	st, err := unify.NewState(s.order)
	if err != nil {
		return unify.ReplaceResult{}, err
	}
	if err := st.Install(groups); err != nil {
		return unify.ReplaceResult{}, err
	}
	s.positions = make(map[stops.ID][2]float64)
	s.commit(st)
	return unify.ReplaceResult{EdgesCreated: len(s.edges), RootsPromoted: len(s.roots)}, nil
}

// MergeByIdentity runs the identity merge over the arena.
func (s *Store) MergeByIdentity(ctx context.Context) (unify.MergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MergeByIdentity"); err != nil {
		return unify.MergeStats{}, err
	}
	st, err := s.load()
	if err != nil {
		return unify.MergeStats{}, err
	}
	stats := st.MergeByIdentity()
	s.commit(st)
	return stats, nil
}

// VerifyInvariants runs the integrity checks over the raw state.
func (s *Store) VerifyInvariants(ctx context.Context) ([]stops.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("VerifyInvariants"); err != nil {
		return nil, err
	}
	return unify.Verify(s.snapshot()), nil
}

// ReassignRoots promotes the usage-ranked top member of every cluster.
func (s *Store) ReassignRoots(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReassignRoots"); err != nil {
		return 0, err
	}
	st, err := s.load()
	if err != nil {
		return 0, err
	}
	list := make([]stops.Stop, len(s.order))
	for i, id := range s.order {
		list[i] = s.stops[id]
	}
	changed := st.ReassignRoots(unify.RootInfos(list, unify.UsageCounts(s.rels, s.usageKind)))
	s.commit(st)
	return changed, nil
}

// RedirectRelationships moves eligible relationships to roots, batchSize
// at a time. Cluster membership is read once up front; a cancelled context
// stops further batches and moved batches stay.
func (s *Store) RedirectRelationships(ctx context.Context, batchSize int) (int, error) {
	if err := unify.CheckBatchSize(batchSize); err != nil {
		return 0, err
	}
	rootOf, err := s.redirectIndex()
	if err != nil {
		return 0, err
	}
	moved := 0
	for {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		n := s.redirectBatch(rootOf, batchSize)
		if n == 0 {
			return moved, nil
		}
		moved += n
	}
}

func (s *Store) redirectIndex() (map[stops.ID]stops.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RedirectRelationships"); err != nil {
		return nil, err
	}
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	return unify.RootIndex(st.Clusters()), nil
}

func (s *Store) redirectBatch(rootOf map[stops.ID]stops.ID, batchSize int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := unify.PlanRedirect(s.rels, rootOf, s.kinds, batchSize)
	for _, i := range idx {
		s.rels[i].Stop = rootOf[s.rels[i].Stop]
	}
	return len(idx)
}

// UpdateClusterPositions stores every cluster's centroid on its root.
func (s *Store) UpdateClusterPositions(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateClusterPositions"); err != nil {
		return 0, err
	}
	st, err := s.load()
	if err != nil {
		return 0, err
	}
	clusters := unify.Positions(st.Clusters(), s.stops)
	s.positions = make(map[stops.ID][2]float64, len(clusters))
	for _, c := range clusters {
		s.positions[c.Root] = [2]float64{c.Lat, c.Lon}
	}
	return len(clusters), nil
}

// Clusters lists all clusters ordered by root, with stored positions.
func (s *Store) Clusters(ctx context.Context) ([]stops.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Clusters"); err != nil {
		return nil, err
	}
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	out := st.Clusters()
	for i := range out {
		if p, ok := s.positions[out[i].Root]; ok {
			out[i].Lat, out[i].Lon = p[0], p[1]
		}
	}
	return out, nil
}

// String summarizes the store for debugging.
func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("memstore(%d stops, %d roots, %d edges, %d relationships, redirect %v)",
		len(s.order), len(s.roots), len(s.edges), len(s.rels), s.kinds.Sorted())
}
