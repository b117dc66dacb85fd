// Package protocol implements the wire format exchanged between a host and
// its clients.
//
// A payload is ASCII text made of '|'-separated fields:
//
//	J1|INIT|<hostId>|<playlistId>|<currentPlayIndex>
//	J1|REQ|<trackUri>|<requesterId>
//	J1|NOW|<currentPlayIndex>
//	J1|ADD|<newIndex>
//	J1|BYE
//
// String fields are percent-escaped, so track URIs and user IDs may contain
// '|' or '%'. Colons are kept as-is.
package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// Version is the grammar version prefix of every payload.
const Version = "J1"

const separator = "|"

// Kind identifies a message kind.
type Kind int

const (
	KindInvalid Kind = iota
	KindInitiateClient
	KindSongRequest
	KindCurrentlyPlayingUpdate
	KindNewTrackAdded
	KindHostDisconnecting
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInitiateClient:
		return "InitiateClient"
	case KindSongRequest:
		return "SongRequest"
	case KindCurrentlyPlayingUpdate:
		return "CurrentlyPlayingUpdate"
	case KindNewTrackAdded:
		return "NewTrackAdded"
	case KindHostDisconnecting:
		return "HostDisconnecting"
	default:
		return "Invalid"
	}
}

// Message is one of the protocol message kinds.
type Message interface {
	Kind() Kind
}

// InitiateClient is sent by the host to a newly connected client only.
// CurrentPlayIndex is domain.UnknownIndex if the host sent an unreadable value.
type InitiateClient struct {
	HostID           domain.UserID
	PlaylistID       domain.PlaylistID
	CurrentPlayIndex int
}

// SongRequest is a track submission from a client.
type SongRequest struct {
	TrackURI    domain.TrackURI
	RequesterID domain.UserID
}

// CurrentlyPlayingUpdate announces that playback advanced.
type CurrentlyPlayingUpdate struct {
	CurrentPlayIndex int
}

// NewTrackAdded announces that a track was inserted into the backing playlist.
type NewTrackAdded struct {
	NewIndex int
}

// HostDisconnecting announces a graceful host shutdown.
type HostDisconnecting struct{}

// Invalid is the classification of a payload no grammar accepts.
type Invalid struct {
	Reason string
}

func (InitiateClient) Kind() Kind         { return KindInitiateClient }
func (SongRequest) Kind() Kind            { return KindSongRequest }
func (CurrentlyPlayingUpdate) Kind() Kind { return KindCurrentlyPlayingUpdate }
func (NewTrackAdded) Kind() Kind          { return KindNewTrackAdded }
func (HostDisconnecting) Kind() Kind      { return KindHostDisconnecting }
func (Invalid) Kind() Kind                { return KindInvalid }

// ErrUnencodable is returned when encoding a message that has no wire form.
var ErrUnencodable = errors.New("message cannot be encoded")

// grammar describes one message kind on the wire.
type grammar struct {
	tag    string
	fields int
	decode func(fields []string) Message
}

// grammars is the fixed classification order.
var grammars = []grammar{
	{tag: "INIT", fields: 3, decode: decodeInitiateClient},
	{tag: "REQ", fields: 2, decode: decodeSongRequest},
	{tag: "NOW", fields: 1, decode: decodeCurrentlyPlayingUpdate},
	{tag: "ADD", fields: 1, decode: decodeNewTrackAdded},
	{tag: "BYE", fields: 0, decode: func([]string) Message { return HostDisconnecting{} }},
}

// Encode serializes m into a payload.
func Encode(m Message) ([]byte, error) {
	var parts []string

	switch msg := m.(type) {
	case InitiateClient:
		parts = []string{
			"INIT",
			escape(string(msg.HostID)),
			escape(string(msg.PlaylistID)),
			strconv.Itoa(msg.CurrentPlayIndex),
		}
	case SongRequest:
		parts = []string{"REQ", escape(string(msg.TrackURI)), escape(string(msg.RequesterID))}
	case CurrentlyPlayingUpdate:
		parts = []string{"NOW", strconv.Itoa(msg.CurrentPlayIndex)}
	case NewTrackAdded:
		parts = []string{"ADD", strconv.Itoa(msg.NewIndex)}
	case HostDisconnecting:
		parts = []string{"BYE"}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnencodable, m)
	}

	return []byte(Version + separator + strings.Join(parts, separator)), nil
}

// Decode classifies payload and returns the decoded message.
// It never fails: a payload no grammar accepts decodes to Invalid.
func Decode(payload []byte) Message {
	fields := strings.Split(string(payload), separator)
	if fields[0] != Version {
		return Invalid{Reason: "unsupported version"}
	}
	if len(fields) < 2 {
		return Invalid{Reason: "missing tag"}
	}

	tag, args := fields[1], fields[2:]
	for _, g := range grammars {
		if g.tag != tag {
			continue
		}
		if len(args) != g.fields {
			return Invalid{Reason: fmt.Sprintf("%s: expected %d fields, got %d", tag, g.fields, len(args))}
		}
		return g.decode(args)
	}

	return Invalid{Reason: "unknown tag " + strconv.Quote(tag)}
}

func decodeInitiateClient(fields []string) Message {
	hostID, err := url.PathUnescape(fields[0])
	if err != nil {
		return Invalid{Reason: "INIT: bad host id"}
	}
	playlistID, err := url.PathUnescape(fields[1])
	if err != nil {
		return Invalid{Reason: "INIT: bad playlist id"}
	}

	// An unreadable index keeps the handshake moving with an unknown index.
	index, err := strconv.Atoi(fields[2])
	if err != nil {
		index = domain.UnknownIndex
	}

	return InitiateClient{
		HostID:           domain.UserID(hostID),
		PlaylistID:       domain.PlaylistID(playlistID),
		CurrentPlayIndex: index,
	}
}

func decodeSongRequest(fields []string) Message {
	uri, err := url.PathUnescape(fields[0])
	if err != nil || uri == "" {
		return Invalid{Reason: "REQ: bad track uri"}
	}
	requester, err := url.PathUnescape(fields[1])
	if err != nil {
		return Invalid{Reason: "REQ: bad requester id"}
	}

	return SongRequest{
		TrackURI:    domain.TrackURI(uri),
		RequesterID: domain.UserID(requester),
	}
}

func decodeCurrentlyPlayingUpdate(fields []string) Message {
	index, err := strconv.Atoi(fields[0])
	if err != nil {
		return Invalid{Reason: "NOW: index is not an integer"}
	}
	return CurrentlyPlayingUpdate{CurrentPlayIndex: index}
}

func decodeNewTrackAdded(fields []string) Message {
	index, err := strconv.Atoi(fields[0])
	if err != nil {
		return Invalid{Reason: "ADD: index is not an integer"}
	}
	return NewTrackAdded{NewIndex: index}
}

func escape(s string) string {
	return url.PathEscape(s)
}
