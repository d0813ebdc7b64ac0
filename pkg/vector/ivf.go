package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// kmeansRounds bounds the Lloyd iterations used to train the quantizer.
const kmeansRounds = 8

// Rebuilder is implemented by backends that keep tombstones and can compact
// them away.
type Rebuilder interface {
	Rebuild()
}

// ivfIndex is an inverted-file index: entries are bucketed under the nearest
// of Nlist centroids and a query scans only the Nprobe closest buckets.
//
// The quantizer is trained once the live corpus reaches MinTrainSize; until
// then every query is an exhaustive scan. Removed entries are tombstoned and
// skipped at query time until Rebuild compacts the buckets, which happens
// automatically after RebuildThreshold removals.
type ivfIndex struct {
	mu  sync.RWMutex
	cfg Config

	recs       *records
	centroids  [][]float64
	lists      [][]*record
	assign     map[*record]int
	tombstones int
}

func newIVF(cfg Config) (*ivfIndex, error) {
	recs, err := newRecords(cfg)
	if err != nil {
		return nil, err
	}
	return &ivfIndex{
		cfg:    cfg,
		recs:   recs,
		assign: make(map[*record]int),
	}, nil
}

func (x *ivfIndex) trained() bool {
	return len(x.centroids) > 0
}

func (x *ivfIndex) Add(ctx context.Context, entry *Entry) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	rec, err := x.recs.prepare(entry)
	if err != nil {
		return "", err
	}
	if old, ok := x.recs.byID[rec.entry.ID]; ok {
		x.replace(old)
	}
	x.recs.insert(rec)

	switch {
	case x.trained():
		x.place(rec)
	case x.liveCount() >= x.cfg.MinTrainSize:
		x.train()
	}
	x.maybeRebuild()
	return rec.entry.ID, nil
}

// replace retires the record an Add is about to overwrite. Its list slot is
// vacated directly, so no tombstone is left behind, and a tombstone it
// already carried disappears with it.
func (x *ivfIndex) replace(old *record) {
	if old.deleted {
		x.tombstones--
	}
	old.deleted = true
	x.unplace(old)
}

func (x *ivfIndex) maybeRebuild() {
	if x.tombstones >= x.cfg.RebuildThreshold {
		x.rebuild()
	}
}

func (x *ivfIndex) Search(ctx context.Context, query []float64, k int, kinds ...string) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if err := x.recs.checkQuery(query); err != nil {
		return nil, err
	}
	match := kindFilter(kinds)

	var cands []scored
	consider := func(rec *record) {
		if !rec.deleted && match(rec.entry.Kind) {
			cands = append(cands, scored{rec: rec, score: Dot(query, rec.entry.Embedding)})
		}
	}

	if !x.trained() {
		for _, rec := range x.recs.byID {
			consider(rec)
		}
		return rank(cands, k), nil
	}
	for _, list := range x.probe(query) {
		for _, rec := range x.lists[list] {
			consider(rec)
		}
	}
	return rank(cands, k), nil
}

// probe returns the Nprobe centroid indices closest to the query.
func (x *ivfIndex) probe(query []float64) []int {
	order := make([]int, len(x.centroids))
	scores := make([]float64, len(x.centroids))
	for i, c := range x.centroids {
		order[i] = i
		scores[i] = Dot(query, c)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if len(order) > x.cfg.Nprobe {
		order = order[:x.cfg.Nprobe]
	}
	return order
}

func (x *ivfIndex) Get(id string) (Entry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	rec, err := x.recs.get(id)
	if err != nil {
		return Entry{}, err
	}
	return rec.entry.Clone(), nil
}

func (x *ivfIndex) Update(ctx context.Context, id string, u Update) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	rec, err := x.recs.get(id)
	if err != nil {
		return err
	}
	moved, err := x.recs.apply(rec, u)
	if err != nil {
		return err
	}
	if moved && x.trained() {
		x.unplace(rec)
		x.place(rec)
	}
	return nil
}

func (x *ivfIndex) Remove(ctx context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	rec, err := x.recs.get(id)
	if err != nil {
		return err
	}
	rec.deleted = true
	x.tombstones++
	x.maybeRebuild()
	return nil
}

// Rebuild drops tombstoned entries and retrains the quantizer over the live
// corpus, or returns to exhaustive scanning if it is now too small.
func (x *ivfIndex) Rebuild() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.rebuild()
}

func (x *ivfIndex) rebuild() {
	for id, rec := range x.recs.byID {
		if rec.deleted {
			delete(x.recs.byID, id)
		}
	}
	x.tombstones = 0
	x.centroids = nil
	x.lists = nil
	x.assign = make(map[*record]int)
	if x.liveCount() >= x.cfg.MinTrainSize {
		x.train()
	}
}

func (x *ivfIndex) Touch(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.recs.touch(id)
}

func (x *ivfIndex) All() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.recs.entries()
}

func (x *ivfIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.liveCount()
}

func (x *ivfIndex) liveCount() int {
	n := 0
	for _, rec := range x.recs.byID {
		if !rec.deleted {
			n++
		}
	}
	return n
}

func (x *ivfIndex) Dimension() int {
	return x.recs.dim
}

func (x *ivfIndex) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Stats{
		Backend:    BackendIVF,
		Dimension:  x.recs.dim,
		Entries:    x.liveCount(),
		Tombstones: x.tombstones,
		Trained:    x.trained(),
		Lists:      len(x.centroids),
	}
}

func (x *ivfIndex) Close() error {
	return nil
}

// train runs a deterministic k-means over the live entries. Initial
// centroids are evenly spaced picks in insertion order.
func (x *ivfIndex) train() {
	live := x.recs.live()
	k := x.cfg.Nlist
	if k > len(live) {
		k = len(live)
	}
	if k == 0 {
		return
	}

	centroids := make([][]float64, k)
	for i := range centroids {
		centroids[i] = append([]float64(nil), live[i*len(live)/k].entry.Embedding...)
	}

	labels := make([]int, len(live))
	for round := 0; round < kmeansRounds; round++ {
		changed := false
		for i, rec := range live {
			best := nearest(centroids, rec.entry.Embedding)
			if round == 0 || best != labels[i] {
				changed = true
			}
			labels[i] = best
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i, rec := range live {
			c := labels[i]
			if sums[c] == nil {
				sums[c] = make([]float64, x.recs.dim)
			}
			for d, v := range rec.entry.Embedding {
				sums[c][d] += v
			}
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			if unit(sums[c]) {
				centroids[c] = sums[c]
			}
		}
	}

	x.centroids = centroids
	x.lists = make([][]*record, k)
	x.assign = make(map[*record]int, len(live))
	for _, rec := range live {
		x.place(rec)
	}
}

func (x *ivfIndex) place(rec *record) {
	c := nearest(x.centroids, rec.entry.Embedding)
	x.lists[c] = append(x.lists[c], rec)
	x.assign[rec] = c
}

func (x *ivfIndex) unplace(rec *record) {
	c, ok := x.assign[rec]
	if !ok {
		return
	}
	list := x.lists[c]
	for i, r := range list {
		if r == rec {
			x.lists[c] = append(list[:i], list[i+1:]...)
			break
		}
	}
	delete(x.assign, rec)
}

// nearest returns the index of the centroid with the largest inner product,
// lowest index on ties.
func nearest(centroids [][]float64, v []float64) int {
	best, bestScore := 0, math.Inf(-1)
	for i, c := range centroids {
		if s := Dot(v, c); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// unit scales v to length one in place. It reports false for zero vectors.
func unit(v []float64) bool {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return false
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return true
}
