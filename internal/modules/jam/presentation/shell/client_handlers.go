package shell

import (
	"context"
	"fmt"
	"strings"

	"github.com/sglre6355/sgrjam/internal/app"
	"github.com/sglre6355/sgrjam/internal/modules/jam/application/session"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// ClientController is what the client commands drive. Join accepts the
// endpoint as typed by the user.
type ClientController interface {
	Discover(ctx context.Context) error
	Join(ctx context.Context, endpoint string) error
	Request(ctx context.Context, uri domain.TrackURI) error
	Leave(ctx context.Context, opts session.LeaveOptions) error
	Snapshot(ctx context.Context) (session.ClientSnapshot, error)
}

// ClientHandlers holds the command handlers of a joining process.
type ClientHandlers struct {
	client ClientController
}

// NewClientHandlers creates new ClientHandlers.
func NewClientHandlers(client ClientController) *ClientHandlers {
	return &ClientHandlers{client: client}
}

// Handlers returns the command name to handler mapping.
func (h *ClientHandlers) Handlers() map[string]app.CommandHandler {
	return map[string]app.CommandHandler{
		cmdDiscover.Name: h.HandleDiscover,
		cmdHosts.Name:    h.HandleHosts,
		cmdJoin.Name:     h.HandleJoin,
		cmdRequest.Name:  h.HandleRequest,
		cmdQueue.Name:    h.HandleQueue,
		cmdFollow.Name:   h.HandleFollow,
		cmdLeave.Name:    h.HandleLeave,
		cmdRename.Name:   h.HandleRename,
	}
}

// HandleDiscover handles the discover command.
func (h *ClientHandlers) HandleDiscover(ctx context.Context, _ []string, r app.Responder) error {
	if err := h.client.Discover(ctx); err != nil {
		return err
	}
	return r.Respond("Looking for jams nearby...")
}

// HandleHosts handles the hosts command.
func (h *ClientHandlers) HandleHosts(ctx context.Context, _ []string, r app.Responder) error {
	snap, err := h.client.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snap.Discovered) == 0 {
		return r.Respond("No jams found yet")
	}

	lines := make([]string, 0, len(snap.Discovered))
	for _, d := range snap.Discovered {
		lines = append(lines, fmt.Sprintf("%-24s %s", displayName(d.Name), d.Endpoint))
	}
	return r.Respond(strings.Join(lines, "\n"))
}

// HandleJoin handles the join command.
func (h *ClientHandlers) HandleJoin(ctx context.Context, args []string, r app.Responder) error {
	if len(args) != 1 {
		return usageError(cmdJoin)
	}
	if err := h.client.Join(ctx, args[0]); err != nil {
		return err
	}
	return r.Respond("Connecting...")
}

// HandleRequest handles the request command.
func (h *ClientHandlers) HandleRequest(ctx context.Context, args []string, r app.Responder) error {
	if len(args) != 1 {
		return usageError(cmdRequest)
	}
	if err := h.client.Request(ctx, domain.TrackURI(args[0])); err != nil {
		return err
	}
	return r.Respond(fmt.Sprintf("Sent request for %s", args[0]))
}

// HandleQueue handles the queue command.
func (h *ClientHandlers) HandleQueue(ctx context.Context, _ []string, r app.Responder) error {
	snap, err := h.client.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.State != domain.ClientSynced {
		return r.Respond(fmt.Sprintf("Not synced with a host (%s)", snap.State))
	}
	if len(snap.Tracks) == 0 {
		return r.Respond("The playlist is empty")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Playlist %s", snap.PlaylistID)
	for i, track := range snap.Tracks {
		if i < snap.CurrentPlayIndex {
			continue
		}
		marker := " "
		if i == snap.CurrentPlayIndex {
			marker = ">"
		}
		fmt.Fprintf(&b, "\n%s %2d. %s", marker, i+1, formatTrack(track))
	}
	return r.Respond(b.String())
}

// HandleFollow handles the follow command.
func (h *ClientHandlers) HandleFollow(ctx context.Context, _ []string, r app.Responder) error {
	return h.leave(ctx, session.LeaveOptions{Follow: true}, r)
}

// HandleLeave handles the leave command.
func (h *ClientHandlers) HandleLeave(ctx context.Context, args []string, r app.Responder) error {
	var opts session.LeaveOptions
	switch {
	case len(args) == 0:
	case len(args) == 1 && args[0] == "follow":
		opts.Follow = true
	default:
		return usageError(cmdLeave)
	}
	return h.leave(ctx, opts, r)
}

// HandleRename handles the rename command.
func (h *ClientHandlers) HandleRename(ctx context.Context, args []string, r app.Responder) error {
	name := strings.TrimSpace(strings.Join(args, " "))
	if name == "" {
		return usageError(cmdRename)
	}
	return h.leave(ctx, session.LeaveOptions{Follow: true, Rename: name}, r)
}

func (h *ClientHandlers) leave(ctx context.Context, opts session.LeaveOptions, r app.Responder) error {
	if err := h.client.Leave(ctx, opts); err != nil {
		return err
	}

	switch {
	case opts.Rename != "":
		return r.Respond(fmt.Sprintf("Left the jam and saved the playlist as %q", opts.Rename))
	case opts.Follow:
		return r.Respond("Left the jam and followed the playlist")
	default:
		return r.Respond("Left the jam")
	}
}

func displayName(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}
