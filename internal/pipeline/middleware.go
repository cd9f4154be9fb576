package pipeline

import (
	"strings"
	"time"

	"github.com/IshaanNene/calsync/internal/types"
)

// DateNormalizeMiddleware rewrites the match date into one layout. Dates it
// cannot parse are left untouched.
type DateNormalizeMiddleware struct {
	outFormat string
	inFormats []string
}

func NewDateNormalizeMiddleware(outFormat string) *DateNormalizeMiddleware {
	if outFormat == "" {
		outFormat = "2006-01-02"
	}
	return &DateNormalizeMiddleware{
		outFormat: outFormat,
		inFormats: []string{
			"2006-01-02",
			"02-01-2006",
			"2-1-2006",
			"02.01.2006",
			"2.1.2006",
			"02/01/2006",
			"2/1/2006",
			"02-01-06",
			"02.01.06",
			time.RFC3339,
		},
	}
}

func (m *DateNormalizeMiddleware) Name() string { return "date_normalize" }

func (m *DateNormalizeMiddleware) Process(rec *types.MatchRecord) (*types.MatchRecord, error) {
	s := strings.TrimSpace(rec.Date)
	if s == "" {
		return rec, nil
	}
	for _, format := range m.inFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			rec.Date = t.Format(m.outFormat)
			break
		}
	}
	return rec, nil
}
