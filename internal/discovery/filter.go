package discovery

import "slices"

// Matches reports whether e satisfies every constraint in f.
func (f QueryFilter) Matches(e CacheEntry) bool {
	if f.District != "" && e.Key.District != f.District {
		return false
	}
	if f.SeasonFrom > 0 && e.Key.SeasonYear < f.SeasonFrom {
		return false
	}
	if f.SeasonTo > 0 && e.Key.SeasonYear > f.SeasonTo {
		return false
	}
	if f.MinMatchCount > 0 && e.MatchCount < f.MinMatchCount {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status) {
		return false
	}
	return true
}

// StatusStrings converts statuses to their persisted form.
func StatusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// CheckEvictable rejects empty, unknown or ConfirmedExists statuses.
func CheckEvictable(statuses []Status) error {
	if len(statuses) == 0 {
		return NewConfigError("statuses", errNoStatuses)
	}
	for _, s := range statuses {
		if s == StatusConfirmedExists {
			return ErrEvictConfirmed
		}
		if !s.Valid() {
			return NewConfigError("statuses", errUnknownStatus(s))
		}
	}
	return nil
}

// DefaultEvictable are the statuses a retention sweep removes by default.
func DefaultEvictable() []Status {
	return []Status{StatusConfirmedAbsent, StatusTransientError}
}
