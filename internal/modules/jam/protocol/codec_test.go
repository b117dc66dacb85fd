package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "initiate client",
			msg:  InitiateClient{HostID: "host-1", PlaylistID: "pl-1", CurrentPlayIndex: 4},
		},
		{
			name: "initiate client with colon ids",
			msg:  InitiateClient{HostID: "user:host:1", PlaylistID: "a:b", CurrentPlayIndex: 0},
		},
		{
			name: "song request",
			msg:  SongRequest{TrackURI: "spotify:track:6rqhFgbbKwnb9MLmUQDhG6", RequesterID: "alice"},
		},
		{
			name: "song request with delimiters",
			msg:  SongRequest{TrackURI: "weird|uri%20with:colons/and spaces", RequesterID: "user|with|pipes"},
		},
		{
			name: "currently playing update",
			msg:  CurrentlyPlayingUpdate{CurrentPlayIndex: 12},
		},
		{
			name: "new track added",
			msg:  NewTrackAdded{NewIndex: 3},
		},
		{
			name: "host disconnecting",
			msg:  HostDisconnecting{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := Decode(payload)
			if got != tt.msg {
				t.Errorf("expected %#v, got %#v", tt.msg, got)
			}
		})
	}
}

func TestEncode_KeepsColons(t *testing.T) {
	payload, err := Encode(SongRequest{TrackURI: "spotify:track:1", RequesterID: "u"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != "J1|REQ|spotify:track:1|u" {
		t.Errorf("unexpected payload %q", payload)
	}
}

func TestEncode_Unencodable(t *testing.T) {
	_, err := Encode(Invalid{Reason: "x"})
	if !errors.Is(err, ErrUnencodable) {
		t.Errorf("expected ErrUnencodable, got %v", err)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{name: "empty", payload: "", reason: "version"},
		{name: "wrong version", payload: "J2|NOW|1", reason: "version"},
		{name: "missing tag", payload: "J1", reason: "tag"},
		{name: "unknown tag", payload: "J1|PING", reason: "unknown tag"},
		{name: "too few fields", payload: "J1|REQ|uri", reason: "expected 2 fields"},
		{name: "too many fields", payload: "J1|BYE|extra", reason: "expected 0 fields"},
		{name: "non-integer now", payload: "J1|NOW|abc", reason: "not an integer"},
		{name: "non-integer add", payload: "J1|ADD|1.5", reason: "not an integer"},
		{name: "bad escape", payload: "J1|REQ|%zz|u", reason: "track uri"},
		{name: "empty uri", payload: "J1|REQ||u", reason: "track uri"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode([]byte(tt.payload))
			inv, ok := got.(Invalid)
			if !ok {
				t.Fatalf("expected Invalid, got %#v", got)
			}
			if inv.Kind() != KindInvalid {
				t.Errorf("expected KindInvalid, got %v", inv.Kind())
			}
			if !strings.Contains(inv.Reason, tt.reason) {
				t.Errorf("expected reason containing %q, got %q", tt.reason, inv.Reason)
			}
		})
	}
}

func TestDecode_InitiateClientBadIndexFallsBack(t *testing.T) {
	got := Decode([]byte("J1|INIT|host|pl|nope"))

	msg, ok := got.(InitiateClient)
	if !ok {
		t.Fatalf("expected InitiateClient, got %#v", got)
	}
	if msg.CurrentPlayIndex != domain.UnknownIndex {
		t.Errorf("expected unknown index, got %d", msg.CurrentPlayIndex)
	}
	if msg.HostID != "host" || msg.PlaylistID != "pl" {
		t.Errorf("unexpected fields: %#v", msg)
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInitiateClient, "InitiateClient"},
		{KindSongRequest, "SongRequest"},
		{KindCurrentlyPlayingUpdate, "CurrentlyPlayingUpdate"},
		{KindNewTrackAdded, "NewTrackAdded"},
		{KindHostDisconnecting, "HostDisconnecting"},
		{KindInvalid, "Invalid"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}
