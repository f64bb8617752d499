package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/castkeeper/internal/vectorindex"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// MemIndex is an in-memory vectorindex.Index keyed by content id and
// generation.
type MemIndex struct {
	mu     sync.Mutex
	gens   map[int64][]memGeneration
	faults map[string][]error

	Dimensions int
}

type memGeneration struct {
	id      uuid.UUID
	entries []models.VectorEntry
}

var _ vectorindex.Index = (*MemIndex)(nil)

func NewMemIndex(dimensions int) *MemIndex {
	return &MemIndex{
		gens:       make(map[int64][]memGeneration),
		faults:     make(map[string][]error),
		Dimensions: dimensions,
	}
}

// FailNext makes the next n calls of op return err.
func (x *MemIndex) FailNext(op string, err error, n int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := 0; i < n; i++ {
		x.faults[op] = append(x.faults[op], err)
	}
}

func (x *MemIndex) fault(op string) error {
	q := x.faults[op]
	if len(q) == 0 {
		return nil
	}
	x.faults[op] = q[1:]
	return q[0]
}

// Put seeds entries for contentID as an extra generation without removing
// older ones, which simulates a half-finished replace.
func (x *MemIndex) Put(contentID int64, entries []models.VectorEntry) uuid.UUID {
	x.mu.Lock()
	defer x.mu.Unlock()
	g := memGeneration{id: uuid.New(), entries: append([]models.VectorEntry(nil), entries...)}
	x.gens[contentID] = append(x.gens[contentID], g)
	return g.id
}

// Entries returns the live entries for contentID.
func (x *MemIndex) Entries(contentID int64) []models.VectorEntry {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []models.VectorEntry
	for _, g := range x.gens[contentID] {
		out = append(out, g.entries...)
	}
	return out
}

func (x *MemIndex) Replace(ctx context.Context, contentID int64, entries []models.VectorEntry) (uuid.UUID, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.fault("Replace"); err != nil {
		return uuid.Nil, err
	}
	for _, e := range entries {
		if x.Dimensions > 0 && len(e.Embedding) != x.Dimensions {
			return uuid.Nil, fmt.Errorf("embedding has %d dimensions, index expects %d", len(e.Embedding), x.Dimensions)
		}
	}
	g := memGeneration{id: uuid.New(), entries: append([]models.VectorEntry(nil), entries...)}
	if len(entries) == 0 {
		delete(x.gens, contentID)
	} else {
		x.gens[contentID] = []memGeneration{g}
	}
	return g.id, nil
}

func (x *MemIndex) DeleteAll(ctx context.Context, contentID int64) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.fault("DeleteAll"); err != nil {
		return 0, err
	}
	n := 0
	for _, g := range x.gens[contentID] {
		n += len(g.entries)
	}
	delete(x.gens, contentID)
	return n, nil
}

func (x *MemIndex) ContentIDs(ctx context.Context) ([]int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.fault("ContentIDs"); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(x.gens))
	for id := range x.gens {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

func (x *MemIndex) Count(ctx context.Context, contentID int64) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for _, g := range x.gens[contentID] {
		n += len(g.entries)
	}
	return n, nil
}

func (x *MemIndex) StaleGenerations(ctx context.Context) ([]vectorindex.Generation, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.fault("StaleGenerations"); err != nil {
		return nil, err
	}
	var out []vectorindex.Generation
	for id, gens := range x.gens {
		for _, g := range gens[:len(gens)-1] {
			out = append(out, vectorindex.Generation{ContentID: id, ID: g.id})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ContentID < out[b].ContentID })
	return out, nil
}

func (x *MemIndex) DeleteGeneration(ctx context.Context, gen vectorindex.Generation) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	gens := x.gens[gen.ContentID]
	for i, g := range gens {
		if g.id == gen.ID {
			x.gens[gen.ContentID] = append(gens[:i], gens[i+1:]...)
			if len(x.gens[gen.ContentID]) == 0 {
				delete(x.gens, gen.ContentID)
			}
			return len(g.entries), nil
		}
	}
	return 0, nil
}

func (x *MemIndex) Ping(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.fault("Ping")
}
