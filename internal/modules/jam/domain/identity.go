package domain

import "strings"

// UserID identifies a catalog user.
type UserID string

// User is a catalog user with a display name.
type User struct {
	ID          UserID
	DisplayName string
}

// Sentinel identities.
var (
	// FillerUser owns tracks that came from the shuffled base playlist.
	FillerUser = User{ID: "sgrjam:filler", DisplayName: "Base playlist"}

	// UnknownUser is used when a requester lookup fails.
	UnknownUser = User{ID: "sgrjam:unknown", DisplayName: "Unknown user"}
)

// Credentials is the identity a session acts as towards the catalog.
// It is scoped to one session and replaced through an explicit update.
type Credentials struct {
	UserID      UserID
	DisplayName string
	AccessToken string
}

// IsZero returns true if no user is set.
func (c Credentials) IsZero() bool {
	return c.UserID == ""
}

// User returns the user the credentials belong to.
func (c Credentials) User() User {
	return User{ID: c.UserID, DisplayName: c.DisplayName}
}

// Endpoint is an opaque transport-assigned identifier for a peer.
type Endpoint string

// Short returns an abbreviated form of the endpoint for logs and prompts.
func (e Endpoint) Short() string {
	s := string(e)
	if len(s) <= 12 {
		return s
	}
	return s[len(s)-8:]
}

// PlaylistID identifies a catalog playlist.
type PlaylistID string

const playlistURIPrefix = "sgrjam:playlist:"

// Playlist is a catalog playlist.
type Playlist struct {
	ID      PlaylistID
	Name    string
	OwnerID UserID
}

// URI returns the playlist URI handed to the player.
func (p Playlist) URI() string {
	return PlaylistURI(p.ID)
}

// PlaylistURI builds the player-facing URI for a playlist ID.
func PlaylistURI(id PlaylistID) string {
	return playlistURIPrefix + string(id)
}

// ParsePlaylistURI extracts the playlist ID from a playlist URI.
func ParsePlaylistURI(uri string) (PlaylistID, bool) {
	id, ok := strings.CutPrefix(uri, playlistURIPrefix)
	if !ok || id == "" {
		return "", false
	}
	return PlaylistID(id), true
}
