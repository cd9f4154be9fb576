package types

import (
	"fmt"
	"strings"
	"time"
)

// Link template placeholders substituted verbatim for each pool.
const (
	PlaceholderSeason = "{season}"
	PlaceholderRegion = "{region}"
	PlaceholderGroup  = "{group}"
	PlaceholderPool   = "{pool}"
)

// RunRequest carries the parameters of one scraping run.
type RunRequest struct {
	Season        string `json:"season"        validate:"required"`
	LinkStructure string `json:"linkStructure" validate:"required"`
	Venue         string `json:"venue"         validate:"required"`
	SessionID     string `json:"sessionId"`

	// DisableVenueFilter keeps every valid row regardless of venue.
	DisableVenueFilter bool `json:"disableVenueFilter,omitempty"`
}

// NewSessionID returns the default session identifier for a run.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("session_%d", now.UnixMilli())
}

// NewLogID derives the log identifier for a session.
func NewLogID(now time.Time, sessionID string) string {
	return fmt.Sprintf("LOG_%d_%s", now.UnixMilli(), sessionID)
}

// BuildPoolURL substitutes the pool placeholders in a link template.
func BuildPoolURL(template, season string, pool PoolDefinition) string {
	r := strings.NewReplacer(
		PlaceholderSeason, season,
		PlaceholderRegion, pool.RegionID,
		PlaceholderGroup, pool.AgeGroupID,
		PlaceholderPool, pool.PoolValue,
	)
	return r.Replace(template)
}

// DiscoverRequest describes a pool discovery crawl.
type DiscoverRequest struct {
	BaseURL   string `json:"baseUrl"   validate:"required,url"`
	Season    string `json:"season"    validate:"required"`
	MaxUnions int    `json:"maxUnions" validate:"gte=0"`
	MaxGroups int    `json:"maxGroups" validate:"gte=0"`
	MaxPools  int    `json:"maxPools"  validate:"gte=0"`
	SavePools bool   `json:"savePools"`
}
