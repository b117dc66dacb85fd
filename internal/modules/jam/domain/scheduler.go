package domain

// ScheduleOptions carries the queue flags the scheduler depends on.
type ScheduleOptions struct {
	FairPlay     bool
	FillerLoaded bool
	PlayerActive bool
}

// Schedule computes where req belongs in pending and whether it now sits in
// the current or on-deck slot that an existing request used to occupy.
//
// pending[0] is the track at currentPlayIndex (playing once the player is
// active), so pending[1] is on deck. isNext is true exactly when the returned
// index is 0 or 1 and the request displaced an existing request there. The
// same definition is used with and without fair play.
//
// Schedule is a total function of its inputs and never mutates pending.
func Schedule(pending []SongRequest, req SongRequest, opts ScheduleOptions) (index int, isNext bool) {
	index = InsertionIndex(pending, req, opts)
	return index, index <= 1 && index < len(pending)
}

// InsertionIndex returns the position in pending at which req is inserted.
func InsertionIndex(pending []SongRequest, req SongRequest, opts ScheduleOptions) int {
	if !opts.FairPlay {
		if !opts.FillerLoaded {
			return len(pending)
		}
		for i, r := range pending {
			if r.IsFiller() && fillerDisplaceable(i, opts) {
				return i
			}
		}
		return len(pending)
	}

	// hasSeenRequester tracks, per owner, whether the new requester had a
	// song since that owner's last one.
	hasSeenRequester := make(map[UserID]bool)
	for i, r := range pending {
		if r.IsFiller() {
			if fillerDisplaceable(i, opts) {
				return i
			}
			continue
		}

		seen, tracked := hasSeenRequester[r.RequesterID]
		switch {
		case r.RequesterID == req.RequesterID:
			for owner := range hasSeenRequester {
				hasSeenRequester[owner] = true
			}
		case tracked && seen:
			hasSeenRequester[r.RequesterID] = false
		case tracked:
			// Repeat with no requester song in between.
			return i
		default:
			hasSeenRequester[r.RequesterID] = false
		}
	}

	return len(pending)
}

// fillerDisplaceable reports whether a filler request at index i yields its
// slot. The filler at index 0 is the current track once the player is active.
func fillerDisplaceable(i int, opts ScheduleOptions) bool {
	return i > 0 || !opts.PlayerActive
}
