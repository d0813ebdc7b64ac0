package vector

import (
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
)

// record is the stored form of an entry. seq preserves insertion order for
// tie-breaking; deleted marks a tombstone in backends without true deletion.
type record struct {
	entry   Entry
	seq     uint64
	deleted bool
}

// records is the id-keyed entry table shared by every backend.
// It is not synchronized; backends guard it with their own lock.
type records struct {
	dim  int
	byID map[string]*record
	seq  uint64
	ids  *snowflake.Node
	now  func() time.Time
}

func newRecords(cfg Config) (*records, error) {
	ids, err := snowflake.NewNode(cfg.NodeNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator: %w", err)
	}
	return &records{
		dim:  cfg.Dimension,
		byID: make(map[string]*record),
		ids:  ids,
		now:  cfg.Clock,
	}, nil
}

// prepare validates and completes an entry without storing it.
func (r *records) prepare(entry *Entry) (*record, error) {
	if entry == nil {
		return nil, ErrInvalidInput
	}
	if len(entry.Embedding) != r.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(entry.Embedding), r.dim)
	}
	e := entry.Clone()
	if e.ID == "" {
		e.ID = r.ids.Generate().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = e.CreatedAt
	}
	if e.AccessCount < 0 {
		e.AccessCount = 0
	}
	r.seq++
	return &record{entry: e, seq: r.seq}, nil
}

func (r *records) insert(rec *record) {
	r.byID[rec.entry.ID] = rec
}

// get returns a live record.
func (r *records) get(id string) (*record, error) {
	rec, ok := r.byID[id]
	if !ok || rec.deleted {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return rec, nil
}

// apply changes the fields named by u. It reports whether the embedding
// changed so backends can re-index.
func (r *records) apply(rec *record, u Update) (bool, error) {
	if u.Embedding != nil && len(u.Embedding) != r.dim {
		return false, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(u.Embedding), r.dim)
	}
	if u.Content != nil {
		rec.entry.Content = *u.Content
	}
	if u.Kind != nil {
		rec.entry.Kind = *u.Kind
	}
	if u.Importance != nil {
		rec.entry.Importance = *u.Importance
	}
	for k, v := range u.Metadata {
		if rec.entry.Metadata == nil {
			rec.entry.Metadata = make(map[string]string)
		}
		rec.entry.Metadata[k] = v
	}
	if u.Embedding != nil {
		rec.entry.Embedding = append([]float64(nil), u.Embedding...)
		return true, nil
	}
	return false, nil
}

func (r *records) touch(id string) error {
	rec, err := r.get(id)
	if err != nil {
		return err
	}
	rec.entry.AccessCount++
	rec.entry.LastAccessedAt = r.now()
	return nil
}

// live returns every non-deleted record in insertion order.
func (r *records) live() []*record {
	out := make([]*record, 0, len(r.byID))
	for _, rec := range r.byID {
		if !rec.deleted {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *records) entries() []Entry {
	recs := r.live()
	out := make([]Entry, len(recs))
	for i, rec := range recs {
		out[i] = rec.entry.Clone()
	}
	return out
}

type scored struct {
	rec   *record
	score float64
}

// rank orders candidates by score then insertion order and keeps the top k.
func rank(cands []scored, k int) []Hit {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].rec.seq < cands[j].rec.seq
	})
	if k > 0 && len(cands) > k {
		cands = cands[:k]
	}
	hits := make([]Hit, len(cands))
	for i, c := range cands {
		hits[i] = Hit{Entry: c.rec.entry.Clone(), Score: c.score}
	}
	return hits
}

func kindFilter(kinds []string) func(string) bool {
	if len(kinds) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(kind string) bool {
		_, ok := set[kind]
		return ok
	}
}

// Dot returns the inner product of two equal-length vectors.
func Dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func (r *records) checkQuery(query []float64) error {
	if len(query) != r.dim {
		return fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(query), r.dim)
	}
	return nil
}
