// Package keyspace models the candidate identifiers probed against the upstream site.
package keyspace

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DefaultSubEndpoint names the primary data view of a competition.
const DefaultSubEndpoint = "default"

// CandidateKey identifies one (district, season, competition, view) tuple.
// It is a comparable value type and safe to use as a map key.
type CandidateKey struct {
	District      string `json:"district"`
	SeasonYear    int    `json:"season_year"`
	CompetitionID int    `json:"competition_id"`
	SubEndpoint   string `json:"sub_endpoint"`
}

// New builds a key, defaulting an empty sub-endpoint.
func New(district string, season, competition int, sub string) CandidateKey {
	if sub == "" {
		sub = DefaultSubEndpoint
	}
	return CandidateKey{
		District:      district,
		SeasonYear:    season,
		CompetitionID: competition,
		SubEndpoint:   sub,
	}
}

// String renders the key as district/season/competition/sub.
func (k CandidateKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%s", k.District, k.SeasonYear, k.CompetitionID, k.SubEndpoint)
}

// Validate reports malformed keys.
func (k CandidateKey) Validate() error {
	switch {
	case strings.TrimSpace(k.District) == "":
		return fmt.Errorf("district is required")
	case k.SeasonYear <= 0:
		return fmt.Errorf("season year must be > 0, got %d", k.SeasonYear)
	case k.CompetitionID < 0:
		return fmt.Errorf("competition id must be >= 0, got %d", k.CompetitionID)
	case strings.TrimSpace(k.SubEndpoint) == "":
		return fmt.Errorf("sub endpoint is required")
	}
	return nil
}

// Compare orders keys by season (newest first), competition id, sub-endpoint
// and finally district. It returns -1, 0 or +1.
func Compare(a, b CandidateKey) int {
	if c := cmp.Compare(b.SeasonYear, a.SeasonYear); c != 0 {
		return c
	}
	if c := cmp.Compare(a.CompetitionID, b.CompetitionID); c != 0 {
		return c
	}
	if c := strings.Compare(a.SubEndpoint, b.SubEndpoint); c != 0 {
		return c
	}
	return strings.Compare(a.District, b.District)
}

// Less reports whether a sorts before b.
func Less(a, b CandidateKey) bool {
	return Compare(a, b) < 0
}

// Sort orders keys in place and drops duplicates, returning the shortened slice.
func Sort(keys []CandidateKey) []CandidateKey {
	slices.SortFunc(keys, Compare)
	return slices.Compact(keys)
}

// Parse reverses String.
func Parse(raw string) (CandidateKey, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 4 {
		return CandidateKey{}, fmt.Errorf("parse key %q: want district/season/competition/sub", raw)
	}
	season, err := strconv.Atoi(parts[1])
	if err != nil {
		return CandidateKey{}, fmt.Errorf("parse key %q season: %w", raw, err)
	}
	competition, err := strconv.Atoi(parts[2])
	if err != nil {
		return CandidateKey{}, fmt.Errorf("parse key %q competition: %w", raw, err)
	}
	key := New(parts[0], season, competition, parts[3])
	if err := key.Validate(); err != nil {
		return CandidateKey{}, fmt.Errorf("parse key %q: %w", raw, err)
	}
	return key, nil
}
