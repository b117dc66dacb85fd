package domain

import (
	"slices"

	"github.com/google/uuid"
)

// Placement describes where a request landed in the queue.
type Placement struct {
	// Index is the position in the pending list.
	Index int
	// Position is the absolute position in the backing playlist.
	Position int
	// IsNext is true if the request displaced the current or on-deck track.
	IsNext bool
}

// Queue is the host's authoritative queue.
// pending holds the not-yet-played slice of the backing playlist, starting
// at currentIndex, so len(pending) == TotalTracks() - currentIndex.
type Queue struct {
	pending      []SongRequest
	currentIndex int
	fairPlay     bool
	fillerLoaded bool
}

// NewQueue creates a new empty Queue. Fair play is fixed for the session.
func NewQueue(fairPlay bool) *Queue {
	return &Queue{
		pending:  make([]SongRequest, 0),
		fairPlay: fairPlay,
	}
}

// IsEmpty returns true if there are no pending requests.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	return len(q.pending)
}

// CurrentPlayIndex returns the absolute playlist position of pending[0].
func (q *Queue) CurrentPlayIndex() int {
	return q.currentIndex
}

// TotalTracks returns the number of tracks in the backing playlist.
func (q *Queue) TotalTracks() int {
	return q.currentIndex + len(q.pending)
}

// IsFairPlay returns true if fair play is enabled.
func (q *Queue) IsFairPlay() bool {
	return q.fairPlay
}

// HasFillerLoaded returns true once a base playlist was shuffled in.
func (q *Queue) HasFillerLoaded() bool {
	return q.fillerLoaded
}

// Current returns the request at the current play index, or nil if empty.
func (q *Queue) Current() *SongRequest {
	if q.IsEmpty() {
		return nil
	}
	r := q.pending[0]
	return &r
}

// Pending returns a copy of the pending requests.
func (q *Queue) Pending() []SongRequest {
	return slices.Clone(q.pending)
}

// Enqueue places req according to the fairness rules and returns where it landed.
func (q *Queue) Enqueue(req SongRequest, playerActive bool) Placement {
	index, isNext := Schedule(q.pending, req, ScheduleOptions{
		FairPlay:     q.fairPlay,
		FillerLoaded: q.fillerLoaded,
		PlayerActive: playerActive,
	})
	q.pending = slices.Insert(q.pending, index, req)

	return Placement{
		Index:    index,
		Position: index + q.currentIndex,
		IsNext:   isNext,
	}
}

// LoadFiller appends the base playlist tracks as filler requests.
func (q *Queue) LoadFiller(uris []TrackURI) {
	for _, uri := range uris {
		q.pending = append(q.pending, NewFillerRequest(uri))
	}
	q.fillerLoaded = true
}

// Advance drops the finished front request and moves the play index forward.
// Returns false if there was nothing to advance past.
func (q *Queue) Advance() (SongRequest, bool) {
	if q.IsEmpty() {
		return SongRequest{}, false
	}

	finished := q.pending[0]
	q.pending = q.pending[1:]
	q.currentIndex++

	return finished, true
}

// Remove removes the request with the given ID.
// Returns the pending index it was removed from, or -1 if not found.
func (q *Queue) Remove(id uuid.UUID) int {
	i := q.IndexOf(id)
	if i < 0 {
		return -1
	}
	q.pending = slices.Delete(q.pending, i, i+1)
	return i
}

// SetRequesterName updates the display name of a pending request.
func (q *Queue) SetRequesterName(id uuid.UUID, name string) bool {
	i := q.IndexOf(id)
	if i < 0 {
		return false
	}
	q.pending[i].RequesterName = name
	return true
}

// IndexOf returns the pending index of the request with the given ID,
// or -1 if it is no longer pending.
func (q *Queue) IndexOf(id uuid.UUID) int {
	return slices.IndexFunc(q.pending, func(r SongRequest) bool {
		return r.ID == id
	})
}
