package shell

import (
	"context"
	"fmt"
	"strings"

	"github.com/sglre6355/sgrjam/internal/app"
	"github.com/sglre6355/sgrjam/internal/modules/jam/application/session"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// hostSession is the part of session.HostSession the host commands drive.
type hostSession interface {
	Request(ctx context.Context, uri domain.TrackURI) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Skip(ctx context.Context) error
	Snapshot(ctx context.Context) (session.HostSnapshot, error)
}

// trackLookup resolves track metadata for display.
type trackLookup interface {
	GetTrack(ctx context.Context, uri domain.TrackURI) (domain.Track, error)
}

// HostHandlers holds the command handlers of a hosting process.
type HostHandlers struct {
	session hostSession
	tracks  trackLookup
}

// NewHostHandlers creates new HostHandlers.
func NewHostHandlers(s hostSession, tracks trackLookup) *HostHandlers {
	return &HostHandlers{session: s, tracks: tracks}
}

// Handlers returns the command name to handler mapping.
func (h *HostHandlers) Handlers() map[string]app.CommandHandler {
	return map[string]app.CommandHandler{
		cmdAdd.Name:     h.HandleAdd,
		cmdPlay.Name:    h.HandlePlay,
		cmdPause.Name:   h.HandlePause,
		cmdResume.Name:  h.HandleResume,
		cmdSkip.Name:    h.HandleSkip,
		cmdQueue.Name:   h.HandleQueue,
		cmdClients.Name: h.HandleClients,
	}
}

// HandleAdd handles the add command.
func (h *HostHandlers) HandleAdd(ctx context.Context, args []string, r app.Responder) error {
	if len(args) != 1 {
		return usageError(cmdAdd)
	}

	uri := domain.TrackURI(args[0])
	if err := h.session.Request(ctx, uri); err != nil {
		return err
	}
	return r.Respond(fmt.Sprintf("Requested %s", h.title(ctx, uri)))
}

// HandlePlay handles the play command.
func (h *HostHandlers) HandlePlay(ctx context.Context, _ []string, r app.Responder) error {
	if err := h.session.Play(ctx); err != nil {
		return err
	}
	return r.Respond("Playback started")
}

// HandlePause handles the pause command.
func (h *HostHandlers) HandlePause(ctx context.Context, _ []string, r app.Responder) error {
	if err := h.session.Pause(ctx); err != nil {
		return err
	}
	return r.Respond("Paused")
}

// HandleResume handles the resume command.
func (h *HostHandlers) HandleResume(ctx context.Context, _ []string, r app.Responder) error {
	if err := h.session.Resume(ctx); err != nil {
		return err
	}
	return r.Respond("Resumed")
}

// HandleSkip handles the skip command.
func (h *HostHandlers) HandleSkip(ctx context.Context, _ []string, r app.Responder) error {
	if err := h.session.Skip(ctx); err != nil {
		return err
	}
	return r.Respond("Skipped")
}

// HandleQueue handles the queue command.
func (h *HostHandlers) HandleQueue(ctx context.Context, _ []string, r app.Responder) error {
	snap, err := h.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snap.Pending) == 0 {
		return r.Respond(fmt.Sprintf("The queue is empty (%s)", snap.State))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", snap.Playlist.Name, snap.State)
	for i, req := range snap.Pending {
		marker := " "
		if i == 0 && snap.State.IsActive() {
			marker = ">"
		}
		fmt.Fprintf(&b, "\n%s %2d. %s [%s]",
			marker,
			snap.CurrentPlayIndex+i+1,
			h.title(ctx, req.TrackURI),
			req.RequesterName,
		)
	}
	return r.Respond(b.String())
}

// HandleClients handles the clients command.
func (h *HostHandlers) HandleClients(ctx context.Context, _ []string, r app.Responder) error {
	snap, err := h.session.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snap.Clients) == 0 {
		return r.Respond("No clients connected")
	}

	lines := make([]string, 0, len(snap.Clients)+1)
	lines = append(lines, fmt.Sprintf("%d connected:", len(snap.Clients)))
	for _, ep := range snap.Clients {
		lines = append(lines, "  "+string(ep))
	}
	return r.Respond(strings.Join(lines, "\n"))
}

func (h *HostHandlers) title(ctx context.Context, uri domain.TrackURI) string {
	track, err := h.tracks.GetTrack(ctx, uri)
	if err != nil {
		return string(uri)
	}
	return formatTrack(track)
}

func formatTrack(t domain.Track) string {
	s := t.DisplayTitle()
	if t.Artist != "" {
		s += " - " + t.Artist
	}
	if t.Duration > 0 {
		s += " (" + t.FormattedDuration() + ")"
	}
	return s
}
