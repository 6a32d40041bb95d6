package plans

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

// Outcome says how an observed candidate was folded into the catalog.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeExact   Outcome = "exact"
	OutcomeNear    Outcome = "near-duplicate"
)

// Observation reports the document a candidate landed in.
type Observation struct {
	Doc     model.PlanDocument
	Outcome Outcome
	// Score is the best similarity that justified a near-duplicate merge.
	Score float64
	// Absorbed lists the ids of documents folded into Doc by this
	// observation. References to them must be moved to Doc.ID.
	Absorbed []string
}

// Variant is the stored content of one merged fingerprint.
type Variant struct {
	Fingerprint string `json:"fingerprint"`
	Title       string `json:"title"`
	Content     string `json:"content"`
}

type variant struct {
	Variant
	length int
	terms  map[string]bool
}

func newVariant(v Variant) *variant {
	return &variant{Variant: v, length: len([]rune(v.Content)), terms: Terms(v.Content)}
}

// Catalog is the set of deduplicated plan documents. It is safe for
// concurrent use.
//
// Near-duplicates are clustered by single link over variants: two
// fingerprints share a document whenever a chain of pairwise matches joins
// them, so the clusters do not depend on the order plans are observed in.
type Catalog struct {
	opts Options

	mu       sync.RWMutex
	docs     map[string]*model.PlanDocument
	byFP     map[string]string   // every variant fingerprint -> doc id
	variants map[string]*variant // fingerprint -> content, for readable variants
}

// NewCatalog returns an empty catalog.
func NewCatalog(opts Options) *Catalog {
	return &Catalog{
		opts:     opts.withDefaults(),
		docs:     make(map[string]*model.PlanDocument),
		byFP:     make(map[string]string),
		variants: make(map[string]*variant),
	}
}

// Load replaces the catalog contents with docs. Variant content recorded by
// Variants restores the merge state of non-canonical fingerprints; without
// it only each document's own content is compared.
func (c *Catalog) Load(docs []model.PlanDocument, variants ...Variant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.docs = make(map[string]*model.PlanDocument, len(docs))
	c.byFP = make(map[string]string, len(docs))
	c.variants = make(map[string]*variant, len(docs)+len(variants))
	for i := range docs {
		d := cloneDoc(docs[i])
		if len(d.Variants) == 0 {
			d.Variants = []string{d.Fingerprint}
		}
		if d.ContentAvailable {
			c.variants[d.Fingerprint] = newVariant(Variant{Fingerprint: d.Fingerprint, Title: d.Title, Content: d.Content})
		}
		c.put(&d)
	}
	for _, v := range variants {
		if _, ok := c.byFP[v.Fingerprint]; ok {
			c.variants[v.Fingerprint] = newVariant(v)
		}
	}
}

func (c *Catalog) put(d *model.PlanDocument) {
	c.docs[d.ID] = d
	for _, fp := range d.Variants {
		c.byFP[fp] = d.ID
	}
}

// Variants returns the content of every merged fingerprint other than the
// documents' own, ordered by fingerprint.
func (c *Catalog) Variants() []Variant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Variant, 0, len(c.variants))
	for fp, v := range c.variants {
		if d := c.docs[c.byFP[fp]]; d != nil && d.Fingerprint == fp {
			continue
		}
		out = append(out, v.Variant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

// Observe folds a candidate seen in sessionID into the catalog.
//
// An exact fingerprint match unions sessions. A readable candidate is then
// compared with every known variant; each document holding a variant with
// the same title, comparable length and a score at the threshold is merged
// with it. The merged document takes the smallest fingerprint as its id.
func (c *Catalog) Observe(cand Candidate, sessionID string) Observation {
	c.mu.Lock()
	defer c.mu.Unlock()

	obs := Observation{Outcome: OutcomeCreated}
	d, known := c.docs[c.byFP[cand.Fingerprint]]
	if known {
		mergeInto(d, cand, sessionID)
		obs.Outcome, obs.Score = OutcomeExact, 1
	} else {
		d = &model.PlanDocument{
			ID:               PlanID(cand.Fingerprint),
			Title:            cand.Title,
			Fingerprint:      cand.Fingerprint,
			Source:           cand.Source,
			Content:          cand.Content,
			ContentAvailable: cand.ContentAvailable,
			ContentLength:    len([]rune(cand.Content)),
			Variants:         []string{cand.Fingerprint},
			CreatedAt:        cand.Timestamp,
			UpdatedAt:        cand.Timestamp,
		}
		d.AddSessions(sessionID)
		c.put(d)
	}

	if !cand.ContentAvailable || c.variants[cand.Fingerprint] != nil {
		obs.Doc = cloneDoc(*d)
		return obs
	}

	v := newVariant(Variant{Fingerprint: cand.Fingerprint, Title: cand.Title, Content: cand.Content})
	matched := c.similar(v, d.ID)
	c.variants[cand.Fingerprint] = v
	if len(matched) == 0 {
		if d.Fingerprint == cand.Fingerprint && !d.ContentAvailable {
			c.settle(d)
		}
		obs.Doc = cloneDoc(*d)
		return obs
	}

	ids := make([]string, 0, len(matched)+1)
	if known {
		ids = append(ids, d.ID)
	}
	for id, score := range matched {
		ids = append(ids, id)
		obs.Score = math.Max(obs.Score, score)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id != d.ID {
			absorb(d, c.docs[id])
			delete(c.docs, id)
		}
	}
	c.settle(d)
	for _, id := range ids {
		if id != d.ID {
			obs.Absorbed = append(obs.Absorbed, id)
		}
	}
	if obs.Outcome == OutcomeCreated {
		obs.Outcome = OutcomeNear
	}
	obs.Doc = cloneDoc(*d)
	return obs
}

// similar returns the best score per document, other than self, holding a
// variant that matches v.
func (c *Catalog) similar(v *variant, self string) map[string]float64 {
	matched := make(map[string]float64)
	for fp, other := range c.variants {
		id := c.byFP[fp]
		if id == self || !strings.EqualFold(other.Title, v.Title) {
			continue
		}
		if !comparableLength(other.length, v.length, c.opts.LengthTolerance) {
			continue
		}
		score := JaccardSimilarity(other.terms, v.terms)
		if score >= c.opts.SimilarityThreshold && score > matched[id] {
			matched[id] = score
		}
	}
	return matched
}

// absorb folds o's sessions, variants and timestamps into d.
func absorb(d, o *model.PlanDocument) {
	d.AddSessions(o.Sessions...)
	for _, fp := range o.Variants {
		d.Variants = appendSorted(d.Variants, fp)
	}
	if !o.CreatedAt.IsZero() && (d.CreatedAt.IsZero() || o.CreatedAt.Before(d.CreatedAt)) {
		d.CreatedAt = o.CreatedAt
	}
	if o.UpdatedAt.After(d.UpdatedAt) {
		d.UpdatedAt = o.UpdatedAt
	}
	if sourceRank(o.Source) < sourceRank(d.Source) {
		d.Source = o.Source
	}
}

// settle moves d to its smallest variant fingerprint and takes that
// variant's content, then reindexes every variant.
func (c *Catalog) settle(d *model.PlanDocument) {
	sort.Strings(d.Variants)
	canonical := d.Variants[0]
	delete(c.docs, d.ID)

	d.ID = PlanID(canonical)
	d.Fingerprint = canonical
	if v, ok := c.variants[canonical]; ok {
		d.Title = v.Title
		d.Content = v.Content
		d.ContentAvailable = true
		d.ContentLength = v.length
	}
	c.put(d)
}

func mergeInto(d *model.PlanDocument, cand Candidate, sessionID string) {
	d.AddSessions(sessionID)
	if !cand.Timestamp.IsZero() {
		if d.CreatedAt.IsZero() || cand.Timestamp.Before(d.CreatedAt) {
			d.CreatedAt = cand.Timestamp
		}
		if cand.Timestamp.After(d.UpdatedAt) {
			d.UpdatedAt = cand.Timestamp
		}
	}
	if sourceRank(cand.Source) < sourceRank(d.Source) {
		d.Source = cand.Source
	}
}

// sourceRank orders sources so merges settle on the same value in any order.
func sourceRank(s model.PlanSource) int {
	switch s {
	case model.PlanWritten:
		return 0
	case model.PlanEmbedded:
		return 1
	default:
		return 2
	}
}

func comparableLength(a, b int, tolerance float64) bool {
	longest := math.Max(float64(a), float64(b))
	if longest == 0 {
		return true
	}
	return math.Abs(float64(a-b))/longest <= tolerance
}

// Get returns the document with id, following merged fingerprints.
func (c *Catalog) Get(id string) (model.PlanDocument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	if !ok {
		return model.PlanDocument{}, false
	}
	return cloneDoc(*d), true
}

// Has reports whether id names a document.
func (c *Catalog) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.docs[id]
	return ok
}

// Canonical maps any variant id to the id of the document it was merged into.
func (c *Catalog) Canonical(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.docs[id]; ok {
		return id, true
	}
	for fp, docID := range c.byFP {
		if PlanID(fp) == id {
			return docID, true
		}
	}
	return "", false
}

// List returns all documents ordered by id.
func (c *Catalog) List() []model.PlanDocument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.PlanDocument, 0, len(c.docs))
	for _, id := range c.sortedIDs() {
		out = append(out, cloneDoc(*c.docs[id]))
	}
	return out
}

// Len returns the number of documents.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func (c *Catalog) sortedIDs() []string {
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneDoc(d model.PlanDocument) model.PlanDocument {
	d.Variants = append([]string(nil), d.Variants...)
	d.Sessions = append([]string(nil), d.Sessions...)
	return d
}

func appendSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

// RemoveSession drops sessionID from the document's sessions. Documents are
// kept even when no sessions remain.
func (c *Catalog) RemoveSession(id, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docs[id]
	if !ok {
		return
	}
	i := sort.SearchStrings(d.Sessions, sessionID)
	if i < len(d.Sessions) && d.Sessions[i] == sessionID {
		d.Sessions = append(d.Sessions[:i], d.Sessions[i+1:]...)
	}
}
