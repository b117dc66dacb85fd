package shell

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/sglre6355/sgrjam/internal/app"
	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// printedEvents are the session events shown to the user.
var printedEvents = []reflect.Type{
	reflect.TypeFor[domain.HostStateChangedEvent](),
	reflect.TypeFor[domain.ClientStateChangedEvent](),
	reflect.TypeFor[domain.NowPlayingChangedEvent](),
	reflect.TypeFor[domain.TrackAddedEvent](),
	reflect.TypeFor[domain.MirrorLoadedEvent](),
	reflect.TypeFor[domain.EndpointDiscoveredEvent](),
	reflect.TypeFor[domain.ClientConnectedEvent](),
	reflect.TypeFor[domain.ClientDisconnectedEvent](),
	reflect.TypeFor[domain.JoinFailedEvent](),
	reflect.TypeFor[domain.HostDisconnectedEvent](),
	reflect.TypeFor[domain.FollowOrLeaveEvent](),
	reflect.TypeFor[domain.SessionFailedEvent](),
}

// EventPrinter writes session events to the terminal as they are published.
type EventPrinter struct {
	out        app.Responder
	subscriber ports.EventSubscriber
}

// NewEventPrinter creates a new EventPrinter.
func NewEventPrinter(out app.Responder, subscriber ports.EventSubscriber) *EventPrinter {
	return &EventPrinter{out: out, subscriber: subscriber}
}

// Start registers event handlers with the subscriber.
func (p *EventPrinter) Start() error {
	for _, t := range printedEvents {
		if err := p.subscriber.Subscribe(t, p.print); err != nil {
			return err
		}
	}
	slog.Debug("event printer started")
	return nil
}

func (p *EventPrinter) print(_ context.Context, e domain.Event) {
	text, ok := FormatEvent(e)
	if !ok {
		return
	}
	if err := p.out.Respond(text); err != nil {
		slog.Warn("failed to print event", "event", e.EventName(), "error", err)
	}
}

// FormatEvent renders e as one terminal line. It returns false for events
// that are not shown.
func FormatEvent(e domain.Event) (string, bool) {
	switch e := e.(type) {
	case domain.HostStateChangedEvent:
		return fmt.Sprintf("* jam is %s", e.To), true
	case domain.ClientStateChangedEvent:
		if e.To == domain.ClientIdle {
			return "", false
		}
		return fmt.Sprintf("* %s", e.To), true
	case domain.NowPlayingChangedEvent:
		if e.Track == nil {
			return fmt.Sprintf("* now playing #%d", e.Index+1), true
		}
		if e.RequesterName == "" {
			return fmt.Sprintf("* now playing: %s", formatTrack(*e.Track)), true
		}
		return fmt.Sprintf("* now playing: %s [%s]", formatTrack(*e.Track), e.RequesterName), true
	case domain.TrackAddedEvent:
		if e.RequesterName == "" {
			return fmt.Sprintf("+ #%d %s", e.Index+1, formatTrack(e.Track)), true
		}
		return fmt.Sprintf("+ #%d %s [%s]", e.Index+1, formatTrack(e.Track), e.RequesterName), true
	case domain.MirrorLoadedEvent:
		return fmt.Sprintf("* joined %s's jam: %d tracks", e.HostID, e.TrackCount), true
	case domain.EndpointDiscoveredEvent:
		return fmt.Sprintf("* found %s at %s", displayName(e.Name), e.Endpoint), true
	case domain.ClientConnectedEvent:
		return fmt.Sprintf("* %s joined (%d connected)", e.Endpoint.Short(), e.ClientCount), true
	case domain.ClientDisconnectedEvent:
		return fmt.Sprintf("* %s left (%d connected)", e.Endpoint.Short(), e.ClientCount), true
	case domain.JoinFailedEvent:
		return fmt.Sprintf("! could not connect to %s after %d attempts", e.Endpoint.Short(), e.Attempts), true
	case domain.HostDisconnectedEvent:
		return fmt.Sprintf("! lost connection to host %s", e.Endpoint.Short()), true
	case domain.FollowOrLeaveEvent:
		return "! the host ended the jam. Type \"follow\" to keep the playlist, " +
			"\"rename <name>\" to keep it under a new name, or \"leave\".", true
	case domain.SessionFailedEvent:
		return fmt.Sprintf("! session failed: %s", e.Reason), true
	default:
		return "", false
	}
}
