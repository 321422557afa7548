package keyword

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/indexdef/internal/docmapper"
	"github.com/hyperjump/indexdef/internal/indexconfig"
	"go.uber.org/zap"
)

// DefaultLimit is used when a search request has no limit.
const DefaultLimit = 20

// ErrNoTimestampField is returned for time filtering or sorting on an index without a timestamp field.
var ErrNoTimestampField = errors.New("index has no timestamp field")

// Sandbox is an in-memory bleve index built from one index config. It lets a
// config be tried against sample documents before it is registered.
type Sandbox struct {
	index     bleve.Index
	mapper    *docmapper.DocMapper
	timestamp string
	dynamic   bool
	logger    *zap.Logger // optional

	mu   sync.Mutex
	next uint64
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithLogger sets a logger for the sandbox and its doc mapper.
func WithLogger(l *zap.Logger) SandboxOption {
	return func(s *Sandbox) { s.logger = l }
}

// NewSandbox validates cfg and opens an empty in-memory index for it.
func NewSandbox(cfg *indexconfig.IndexConfig, opts ...SandboxOption) (*Sandbox, error) {
	s := &Sandbox{}
	for _, opt := range opts {
		opt(s)
	}
	var mapperOpts []docmapper.Option
	if s.logger != nil {
		mapperOpts = append(mapperOpts, docmapper.WithLogger(s.logger))
	}
	mapper, err := docmapper.New(cfg, mapperOpts...)
	if err != nil {
		return nil, err
	}
	im, err := BuildIndexMapping(mapper.Config())
	if err != nil {
		return nil, err
	}
	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	s.index = index
	s.mapper = mapper
	s.timestamp = mapper.Config().DocMapping.TimestampField
	s.dynamic = mapper.Config().DocMapping.Mode == indexconfig.ModeDynamic
	return s, nil
}

// Mapper returns the doc mapper documents are run through.
func (s *Sandbox) Mapper() *docmapper.DocMapper {
	return s.mapper
}

// Index adds mapped documents in one batch and returns their ids.
func (s *Sandbox) Index(ctx context.Context, docs []*docmapper.ParsedDoc) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := s.index.NewBatch()
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id := s.nextID()
		if err := batch.Index(id, s.indexable(doc)); err != nil {
			return nil, fmt.Errorf("failed to index document %s: %w", id, err)
		}
		ids = append(ids, id)
	}
	if err := s.index.Batch(batch); err != nil {
		return nil, fmt.Errorf("Bleve batch failed: %w", err)
	}
	return ids, nil
}

// IndexNDJSON maps and indexes an NDJSON stream. Rejected lines are
// returned in results and do not stop indexing.
func (s *Sandbox) IndexNDJSON(ctx context.Context, r io.Reader) (indexed int, results []docmapper.Result, err error) {
	results, err = s.mapper.MapBatch(ctx, r)
	if err != nil {
		return 0, results, err
	}
	docs := make([]*docmapper.ParsedDoc, 0, len(results))
	for _, res := range results {
		if res.Err == nil {
			docs = append(docs, res.Doc)
		}
	}
	if len(docs) == 0 {
		return 0, results, nil
	}
	ids, err := s.Index(ctx, docs)
	if err != nil {
		return 0, results, err
	}
	if s.logger != nil {
		s.logger.Debug("sandbox indexed documents",
			zap.String("index_id", s.mapper.Config().IndexID),
			zap.Int("indexed", len(ids)),
			zap.Int("rejected", len(results)-len(ids)))
	}
	return len(ids), results, nil
}

func (s *Sandbox) nextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return strconv.FormatUint(s.next, 10)
}

// indexable flattens a parsed doc into the value bleve walks. Bytes are
// left out since they have no bleve field type. Fast datetimes are indexed
// at their fast_precision so range filters see the columnar value.
func (s *Sandbox) indexable(doc *docmapper.ParsedDoc) map[string]interface{} {
	out := make(map[string]interface{}, len(doc.Fields)+len(doc.Dynamic))
	if s.dynamic {
		for k, v := range doc.Dynamic {
			out[k] = v
		}
	}
	for k, v := range doc.Fields {
		f, ok := s.mapper.Config().FieldByName(k)
		if ok && f.Type == indexconfig.TypeBytes {
			continue
		}
		if ok && f.Type == indexconfig.TypeDatetime && f.IsFast() {
			if fv, has := doc.FastValues[k]; has {
				v = fv
			}
		}
		out[k] = v
	}
	return out
}

// SearchRequest is a sandbox query.
type SearchRequest struct {
	// Query uses the bleve query string syntax, e.g. `type:PushEvent actor.login:octocat`.
	// Empty matches every document.
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	// Fuzzy turns each query term into a fuzzy term query over the default search fields.
	Fuzzy     bool `json:"fuzzy,omitempty"`
	Fuzziness int  `json:"fuzziness,omitempty"`
	// StartTimestamp is inclusive, EndTimestamp exclusive. Both need a timestamp field.
	StartTimestamp *time.Time `json:"start_timestamp,omitempty"`
	EndTimestamp   *time.Time `json:"end_timestamp,omitempty"`
	// SortByTimestamp orders hits newest first instead of by score.
	SortByTimestamp bool `json:"sort_by_timestamp,omitempty"`
}

// Hit is a single search hit.
type Hit struct {
	ID     string                 `json:"id"`
	Score  float64                `json:"score"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// SearchResult holds the hits of a sandbox query.
type SearchResult struct {
	Total uint64        `json:"total"`
	Hits  []Hit         `json:"hits"`
	Took  time.Duration `json:"took_ns"`
}

// Search runs req against the sandbox.
func (s *Sandbox) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	q, err := s.buildQuery(req)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	search := bleve.NewSearchRequest(q)
	search.Size = limit
	search.Fields = []string{"*"}
	if req.SortByTimestamp {
		if s.timestamp == "" {
			return nil, fmt.Errorf("cannot sort by timestamp: %w", ErrNoTimestampField)
		}
		search.SortBy([]string{"-" + s.timestamp, "_id"})
	}
	results, err := s.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := &SearchResult{Total: results.Total, Took: results.Took, Hits: make([]Hit, len(results.Hits))}
	for i, hit := range results.Hits {
		out.Hits[i] = Hit{ID: hit.ID, Score: hit.Score, Fields: hit.Fields}
	}
	return out, nil
}

func (s *Sandbox) buildQuery(req SearchRequest) (blevequery.Query, error) {
	var q blevequery.Query
	switch {
	case strings.TrimSpace(req.Query) == "":
		q = bleve.NewMatchAllQuery()
	case req.Fuzzy:
		q = buildFuzzyQuery(req.Query, req.Fuzziness)
	default:
		q = bleve.NewQueryStringQuery(req.Query)
	}
	if req.StartTimestamp == nil && req.EndTimestamp == nil {
		return q, nil
	}
	if s.timestamp == "" {
		return nil, fmt.Errorf("cannot filter on timestamp: %w", ErrNoTimestampField)
	}
	var start, end time.Time
	if req.StartTimestamp != nil {
		start = *req.StartTimestamp
	}
	if req.EndTimestamp != nil {
		end = *req.EndTimestamp
	}
	inclusive, exclusive := true, false
	rq := bleve.NewDateRangeInclusiveQuery(start, end, &inclusive, &exclusive)
	rq.SetField(s.timestamp)
	return bleve.NewConjunctionQuery(q, rq), nil
}

// buildFuzzyQuery creates a disjunction of fuzzy queries, one per term.
func buildFuzzyQuery(queryStr string, fuzziness int) blevequery.Query {
	if fuzziness <= 0 {
		fuzziness = 1
	}
	terms := strings.Fields(strings.ToLower(queryStr))
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// FieldTerms returns the distinct indexed terms of a field, in order.
func (s *Sandbox) FieldTerms(field string) ([]string, error) {
	dict, err := s.index.FieldDict(field)
	if err != nil {
		return nil, fmt.Errorf("failed to read terms of %q: %w", field, err)
	}
	defer dict.Close()
	var terms []string
	for {
		entry, err := dict.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read terms of %q: %w", field, err)
		}
		if entry == nil {
			break
		}
		terms = append(terms, entry.Term)
	}
	return terms, nil
}

// DocCount returns the total number of documents in the sandbox.
func (s *Sandbox) DocCount() (uint64, error) {
	return s.index.DocCount()
}

// Close closes the Bleve index.
func (s *Sandbox) Close() error {
	return s.index.Close()
}
