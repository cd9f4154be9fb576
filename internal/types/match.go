package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// Extraction methods recorded on each MatchRecord.
const (
	ExtractionTable       = "table"
	ExtractionAlternative = "alternative"
)

// RowIndexKey is the RawRow key holding the 1-based position of a data row
// in its table, counted before any filtering.
const RowIndexKey = "row_index"

// PoolDefinition is one tournament subdivision to scrape. It is read-only
// for the lifetime of a run.
type PoolDefinition struct {
	Season          string `json:"season"           db:"season"           bson:"season"`
	RegionID        string `json:"region_id"        db:"region_id"        bson:"region_id"`
	AgeGroupID      string `json:"age_group_id"     db:"age_group_id"     bson:"age_group_id"`
	PoolValue       string `json:"pool_value"       db:"pool_value"       bson:"pool_value"`
	PoolName        string `json:"pool_name"        db:"pool_name"        bson:"pool_name"`
	TournamentLevel string `json:"tournament_level" db:"tournament_level" bson:"tournament_level"`
	SeasonName      string `json:"season_name"      db:"season_name"      bson:"season_name"`
	RegionName      string `json:"region_name"      db:"region_name"      bson:"region_name"`
	AgeGroupName    string `json:"age_group_name"   db:"age_group_name"   bson:"age_group_name"`
	ColorTag        string `json:"color_tag"        db:"color_tag"        bson:"color_tag"`
	HexColor        string `json:"hex_color"        db:"hex_color"        bson:"hex_color"`
}

// Label returns a human readable pool identifier for logs and messages.
func (p PoolDefinition) Label() string {
	if p.PoolName != "" {
		return p.PoolName
	}
	return p.PoolValue
}

// RawRow is an ordered mapping of normalized header names to cell text.
// Team identifiers recovered from links are stored as "<field>_id".
type RawRow struct {
	Keys   []string
	Values map[string]string
}

// NewRawRow creates an empty RawRow.
func NewRawRow() RawRow {
	return RawRow{Values: make(map[string]string)}
}

// Set stores a value, keeping first-insertion order.
func (r *RawRow) Set(key, value string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	if _, ok := r.Values[key]; !ok {
		r.Keys = append(r.Keys, key)
	}
	r.Values[key] = value
}

// Get retrieves a value.
func (r RawRow) Get(key string) (string, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// GetString returns the value or an empty string.
func (r RawRow) GetString(key string) string {
	return r.Values[key]
}

// Len returns the number of fields.
func (r RawRow) Len() int {
	return len(r.Keys)
}

// Clone creates a deep copy of the row.
func (r RawRow) Clone() RawRow {
	clone := RawRow{
		Keys:   make([]string, len(r.Keys)),
		Values: make(map[string]string, len(r.Values)),
	}
	copy(clone.Keys, r.Keys)
	for k, v := range r.Values {
		clone.Values[k] = v
	}
	return clone
}

// MarshalJSON writes the row as a JSON object in insertion order.
func (r RawRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving key order.
func (r *RawRow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = NewRawRow()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var val string
		if err := dec.Decode(&val); err != nil {
			return err
		}
		r.Set(key, val)
	}
	_, err := dec.Token()
	return err
}

// MatchRecord is the canonical output of the pipeline.
type MatchRecord struct {
	MatchID          string    `json:"match_id"`
	HomeTeam         string    `json:"home_team"`
	AwayTeam         string    `json:"away_team"`
	HomeTeamID       *string   `json:"home_team_id,omitempty"`
	AwayTeamID       *string   `json:"away_team_id,omitempty"`
	Date             string    `json:"date"`
	Time             *string   `json:"time,omitempty"`
	Venue            string    `json:"venue"`
	HomeScore        *string   `json:"home_score,omitempty"`
	AwayScore        *string   `json:"away_score,omitempty"`
	Round            *string   `json:"round,omitempty"`
	PoolName         string    `json:"pool_name"`
	Season           string    `json:"season"`
	ExtractionMethod string    `json:"extraction_method"`
	RawData          RawRow    `json:"raw_data"`
	ScrapedAt        time.Time `json:"scraped_at"`
}

// LowConfidence reports whether the record came from heuristic extraction.
func (m *MatchRecord) LowConfidence() bool {
	return m.ExtractionMethod == ExtractionAlternative
}

// Title is the display title used when publishing.
func (m *MatchRecord) Title() string {
	return m.HomeTeam + " vs " + m.AwayTeam
}

// Deref returns the value of an optional field or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Ptr returns a pointer to s, or nil when s is empty.
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RunMetadata accompanies every batch handed to persistence.
type RunMetadata struct {
	SessionID string
	LogID     string
	Season    string
	Pool      PoolDefinition
	Venue     string
}
