package pipeline

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/IshaanNene/calsync/internal/normalizer"
	"github.com/IshaanNene/calsync/internal/types"
	"github.com/IshaanNene/calsync/internal/venue"
)

// Middleware processes a record and returns the (possibly modified) record.
// Return nil to drop the record from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a record. Return nil to drop it.
	Process(rec *types.MatchRecord) (*types.MatchRecord, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Default builds the chain applied to every normalized record of a run.
func Default(filter venue.Filter, logger *slog.Logger) *Pipeline {
	p := New(logger)
	p.Use(&TrimMiddleware{})
	p.Use(&RequiredTeamsMiddleware{})
	p.Use(&VenueFilterMiddleware{Filter: filter})
	p.Use(NewDedupMiddleware())
	p.Use(NewDateNormalizeMiddleware("2006-01-02"))
	return p
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the record through all middleware in order.
func (p *Pipeline) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	current := rec

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage:   mw.Name(),
				MatchID: current.MatchID,
				Err:     err,
			}
		}
		if result == nil {
			p.logger.Debug("record dropped", "stage", mw.Name(), "match_id", rec.MatchID)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// ProcessAll runs every record through the chain and returns the survivors.
// A failing record is logged and skipped.
func (p *Pipeline) ProcessAll(records []*types.MatchRecord) []*types.MatchRecord {
	out := make([]*types.MatchRecord, 0, len(records))
	for _, rec := range records {
		result, err := p.Process(rec)
		if err != nil {
			p.logger.Warn("record rejected", "error", err)
			continue
		}
		if result != nil {
			out = append(out, result)
		}
	}
	return out
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// --- Built-in Middleware ---

// TrimMiddleware collapses whitespace in the text fields.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	for _, s := range []*string{&rec.HomeTeam, &rec.AwayTeam, &rec.Venue, &rec.Date, &rec.PoolName} {
		*s = strings.Join(strings.Fields(*s), " ")
	}
	return rec, nil
}

// RequiredTeamsMiddleware drops records without two real team names.
type RequiredTeamsMiddleware struct{}

func (m *RequiredTeamsMiddleware) Name() string { return "required_teams" }

func (m *RequiredTeamsMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	if normalizer.IsPlaceholderTeam(rec.HomeTeam) || normalizer.IsPlaceholderTeam(rec.AwayTeam) {
		return nil, nil
	}
	return rec, nil
}

// VenueFilterMiddleware drops records whose venue does not match.
type VenueFilterMiddleware struct {
	Filter venue.Filter
}

func (m *VenueFilterMiddleware) Name() string { return "venue_filter" }

func (m *VenueFilterMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	if !m.Filter.Match(rec.Venue) {
		return nil, nil
	}
	return rec, nil
}

// DedupMiddleware drops records whose match id was already seen.
type DedupMiddleware struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDedupMiddleware() *DedupMiddleware {
	return &DedupMiddleware{seen: make(map[string]struct{})}
}

func (m *DedupMiddleware) Name() string { return "dedup" }

func (m *DedupMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	key := rec.MatchID
	if key == "" {
		key = rec.Title() + "|" + rec.Date
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[key]; exists {
		return nil, nil
	}
	m.seen[key] = struct{}{}
	return rec, nil
}
