package discovery

// Merge applies an observation to the existing row (nil when absent) and
// returns the row to persist together with whether anything changed.
//
// Rules, shared by every Cache backend and mirrored by the SQL upserts:
//   - a new key is inserted with attempt_count 1;
//   - a ConfirmedExists row is never modified;
//   - a ConfirmedAbsent row keeps its status and metadata when the observation
//     is Unresolved or TransientError, but still counts the attempt;
//   - an Unresolved (ambiguous) observation never changes the status or
//     metadata of an existing row; it only counts the attempt;
//   - otherwise status and metadata are replaced and the attempt is counted.
func Merge(existing *CacheEntry, obs Observation) (CacheEntry, bool) {
	if existing == nil {
		return CacheEntry{
			Key:          obs.Key,
			Status:       obs.Status,
			MatchCount:   obs.Metadata.MatchCount,
			DisplayName:  obs.Metadata.DisplayName,
			DistrictName: obs.Metadata.DistrictName,
			LastChecked:  obs.CheckedAt,
			AttemptCount: 1,
			SessionID:    obs.SessionID,
		}, true
	}
	if existing.Status == StatusConfirmedExists {
		return *existing, false
	}

	next := *existing
	next.LastChecked = obs.CheckedAt
	next.AttemptCount++
	next.SessionID = obs.SessionID
	if keepStatus(existing.Status, obs.Status) {
		return next, true
	}
	next.Status = obs.Status
	next.MatchCount = obs.Metadata.MatchCount
	next.DisplayName = obs.Metadata.DisplayName
	if obs.Metadata.DistrictName != "" {
		next.DistrictName = obs.Metadata.DistrictName
	}
	return next, true
}

// ShouldProbe reports whether the enumerator emits a key given its cached
// row (nil when never probed).
func ShouldProbe(entry *CacheEntry, maxAttempts int) bool {
	if entry == nil {
		return true
	}
	if entry.Status.Terminal() {
		return false
	}
	return maxAttempts <= 0 || entry.AttemptCount < maxAttempts
}

// keepStatus mirrors the keepStatus CASE of the SQL upserts.
func keepStatus(existing, observed Status) bool {
	if observed == StatusUnresolved {
		return true
	}
	return existing == StatusConfirmedAbsent && observed == StatusTransientError
}
