package vector

import (
	"context"
	"sync"
)

// flatIndex scans every entry on each query. Removal is a true delete.
type flatIndex struct {
	mu   sync.RWMutex
	recs *records
}

func newFlat(cfg Config) (*flatIndex, error) {
	recs, err := newRecords(cfg)
	if err != nil {
		return nil, err
	}
	return &flatIndex{recs: recs}, nil
}

func (f *flatIndex) Add(ctx context.Context, entry *Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.recs.prepare(entry)
	if err != nil {
		return "", err
	}
	f.recs.insert(rec)
	return rec.entry.ID, nil
}

func (f *flatIndex) Search(ctx context.Context, query []float64, k int, kinds ...string) ([]Hit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.recs.checkQuery(query); err != nil {
		return nil, err
	}
	match := kindFilter(kinds)
	cands := make([]scored, 0, len(f.recs.byID))
	for _, rec := range f.recs.byID {
		if match(rec.entry.Kind) {
			cands = append(cands, scored{rec: rec, score: Dot(query, rec.entry.Embedding)})
		}
	}
	return rank(cands, k), nil
}

func (f *flatIndex) Get(id string) (Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rec, err := f.recs.get(id)
	if err != nil {
		return Entry{}, err
	}
	return rec.entry.Clone(), nil
}

func (f *flatIndex) Update(ctx context.Context, id string, u Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.recs.get(id)
	if err != nil {
		return err
	}
	_, err = f.recs.apply(rec, u)
	return err
}

func (f *flatIndex) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.recs.get(id); err != nil {
		return err
	}
	delete(f.recs.byID, id)
	return nil
}

func (f *flatIndex) Touch(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs.touch(id)
}

func (f *flatIndex) All() []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.recs.entries()
}

func (f *flatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.recs.byID)
}

func (f *flatIndex) Dimension() int {
	return f.recs.dim
}

func (f *flatIndex) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Stats{
		Backend:   BackendFlat,
		Dimension: f.recs.dim,
		Entries:   len(f.recs.byID),
	}
}

func (f *flatIndex) Close() error {
	return nil
}
