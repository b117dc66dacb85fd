package domain

import "testing"

func mirrorWith(n int) *Mirror {
	m := NewMirror()
	tracks := make([]Track, n)
	for i := range tracks {
		tracks[i] = NewTrack(TrackURI("track:"+string(rune('a'+i))), "", "", 0)
	}
	m.Load(tracks)
	return m
}

func TestNewMirror(t *testing.T) {
	m := NewMirror()
	if m.Len() != 0 {
		t.Errorf("expected empty mirror, got %d", m.Len())
	}
	if m.CurrentPlayIndex() != UnknownIndex {
		t.Errorf("expected unknown play index, got %d", m.CurrentPlayIndex())
	}
	if m.Current() != nil {
		t.Error("expected nil current track")
	}
}

func TestMirror_SetCurrentPlayIndex(t *testing.T) {
	tests := []struct {
		name  string
		index int
		ok    bool
		want  int
	}{
		{name: "first track", index: 0, ok: true, want: 0},
		{name: "last track", index: 2, ok: true, want: 2},
		{name: "past the end", index: 3, ok: true, want: 3},
		{name: "negative", index: -1, ok: false, want: 1},
		{name: "beyond track count", index: 4, ok: false, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mirrorWith(3)
			m.SetCurrentPlayIndex(1)

			if got := m.SetCurrentPlayIndex(tt.index); got != tt.ok {
				t.Errorf("expected ok=%v, got %v", tt.ok, got)
			}
			if m.CurrentPlayIndex() != tt.want {
				t.Errorf("expected play index %d, got %d", tt.want, m.CurrentPlayIndex())
			}
		})
	}
}

func TestMirror_InsertAt(t *testing.T) {
	m := mirrorWith(2)
	added := NewTrack("track:new", "New", "", 0)

	if m.InsertAt(3, added) {
		t.Error("expected insert beyond length to fail")
	}
	if m.InsertAt(-1, added) {
		t.Error("expected negative insert to fail")
	}
	if !m.InsertAt(1, added) {
		t.Fatal("expected insert at 1 to succeed")
	}
	if got := m.Tracks()[1].URI; got != "track:new" {
		t.Errorf("expected inserted track at 1, got %s", got)
	}
	if !m.InsertAt(m.Len(), added) {
		t.Error("expected append at length to succeed")
	}
	if m.Len() != 4 {
		t.Errorf("expected 4 tracks, got %d", m.Len())
	}
}

func TestMirror_Current(t *testing.T) {
	m := mirrorWith(3)

	if m.Current() != nil {
		t.Error("expected no current track with unknown index")
	}

	m.SetCurrentPlayIndex(1)
	if cur := m.Current(); cur == nil || cur.URI != "track:b" {
		t.Errorf("expected current track:b, got %v", cur)
	}

	m.SetCurrentPlayIndex(3)
	if m.Current() != nil {
		t.Error("expected nil current track past the end")
	}
}
