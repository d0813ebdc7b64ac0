package vector

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// chromemIndex delegates candidate retrieval to an embedded chromem-go
// collection. Entry bodies stay in the local table so Get and All need no
// round trip, and candidates are rescored locally for a stable order.
type chromemIndex struct {
	mu   sync.RWMutex
	db   *chromem.DB
	col  *chromem.Collection
	recs *records
}

func newChromem(cfg Config) (*chromemIndex, error) {
	recs, err := newRecords(cfg)
	if err != nil {
		return nil, err
	}
	db := chromem.NewDB()
	col, err := db.CreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &chromemIndex{db: db, col: col, recs: recs}, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func isZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func (c *chromemIndex) document(e *Entry) chromem.Document {
	return chromem.Document{
		ID:        e.ID,
		Content:   e.Content,
		Embedding: toFloat32(e.Embedding),
		Metadata:  map[string]string{"kind": e.Kind},
	}
}

// put writes the entry to the collection. Zero vectors cannot be normalized
// by chromem and would never rank above zero, so they stay local only.
func (c *chromemIndex) put(ctx context.Context, e *Entry) error {
	if isZero(e.Embedding) {
		return nil
	}
	return c.col.AddDocument(ctx, c.document(e))
}

func (c *chromemIndex) Add(ctx context.Context, entry *Entry) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.recs.prepare(entry)
	if err != nil {
		return "", err
	}
	if _, exists := c.recs.byID[rec.entry.ID]; exists {
		if err := c.col.Delete(ctx, nil, nil, rec.entry.ID); err != nil {
			return "", fmt.Errorf("replace document: %w", err)
		}
	}
	if err := c.put(ctx, &rec.entry); err != nil {
		return "", fmt.Errorf("add document: %w", err)
	}
	c.recs.insert(rec)
	return rec.entry.ID, nil
}

func (c *chromemIndex) Search(ctx context.Context, query []float64, k int, kinds ...string) ([]Hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.recs.checkQuery(query); err != nil {
		return nil, err
	}
	count := c.col.Count()
	if count == 0 || k <= 0 || isZero(query) {
		return c.zeroScored(k, kinds), nil
	}

	// Kind filtering happens locally, so a filtered query pulls the whole
	// collection to avoid losing matches behind other kinds.
	n := k
	if len(kinds) > 0 || n > count {
		n = count
	}
	results, err := c.col.QueryEmbedding(ctx, toFloat32(query), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	match := kindFilter(kinds)
	cands := make([]scored, 0, len(results))
	for _, r := range results {
		rec, ok := c.recs.byID[r.ID]
		if !ok || !match(rec.entry.Kind) {
			continue
		}
		cands = append(cands, scored{rec: rec, score: Dot(query, rec.entry.Embedding)})
	}
	return rank(cands, k), nil
}

// zeroScored serves queries the collection cannot answer: every matching
// entry scores zero and insertion order decides.
func (c *chromemIndex) zeroScored(k int, kinds []string) []Hit {
	match := kindFilter(kinds)
	var cands []scored
	for _, rec := range c.recs.byID {
		if match(rec.entry.Kind) {
			cands = append(cands, scored{rec: rec})
		}
	}
	return rank(cands, k)
}

func (c *chromemIndex) Get(id string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, err := c.recs.get(id)
	if err != nil {
		return Entry{}, err
	}
	return rec.entry.Clone(), nil
}

func (c *chromemIndex) Update(ctx context.Context, id string, u Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.recs.get(id)
	if err != nil {
		return err
	}
	before := rec.entry.Clone()
	if _, err := c.recs.apply(rec, u); err != nil {
		return err
	}
	if err := c.col.Delete(ctx, nil, nil, id); err != nil {
		rec.entry = before
		return fmt.Errorf("update document: %w", err)
	}
	if err := c.put(ctx, &rec.entry); err != nil {
		rec.entry = before
		_ = c.put(ctx, &rec.entry)
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func (c *chromemIndex) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.recs.get(id); err != nil {
		return err
	}
	if err := c.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	delete(c.recs.byID, id)
	return nil
}

func (c *chromemIndex) Touch(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recs.touch(id)
}

func (c *chromemIndex) All() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recs.entries()
}

func (c *chromemIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.recs.byID)
}

func (c *chromemIndex) Dimension() int {
	return c.recs.dim
}

func (c *chromemIndex) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Backend:   BackendChromem,
		Dimension: c.recs.dim,
		Entries:   len(c.recs.byID),
		Trained:   true,
	}
}

func (c *chromemIndex) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.DeleteCollection(c.col.Name)
}
