package application

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// AnnouncementEventHandler posts now-playing notices when the play index moves.
// It subscribes to NowPlayingChangedEvent.
type AnnouncementEventHandler struct {
	catalog    ports.CatalogService
	announcer  ports.Announcer
	subscriber ports.EventSubscriber

	// lastURI suppresses repeated notices for the same track. Handlers run
	// on the bus dispatcher only, so it needs no lock.
	lastURI domain.TrackURI
}

// NewAnnouncementEventHandler creates a new AnnouncementEventHandler.
func NewAnnouncementEventHandler(
	catalog ports.CatalogService,
	announcer ports.Announcer,
	subscriber ports.EventSubscriber,
) *AnnouncementEventHandler {
	return &AnnouncementEventHandler{
		catalog:    catalog,
		announcer:  announcer,
		subscriber: subscriber,
	}
}

// Start registers event handlers with the subscriber.
func (h *AnnouncementEventHandler) Start() error {
	err := h.subscriber.Subscribe(
		reflect.TypeFor[domain.NowPlayingChangedEvent](),
		func(ctx context.Context, e domain.Event) {
			h.handleNowPlayingChanged(ctx, e.(domain.NowPlayingChangedEvent))
		},
	)
	if err != nil {
		return err
	}

	slog.Debug("announcement event handlers properly registered")

	return nil
}

func (h *AnnouncementEventHandler) handleNowPlayingChanged(
	ctx context.Context,
	event domain.NowPlayingChangedEvent,
) {
	if event.Track == nil {
		h.lastURI = ""
		return
	}
	if event.Track.URI == h.lastURI {
		return
	}
	h.lastURI = event.Track.URI

	// Sessions only know the URI; metadata comes from the catalog.
	track, err := h.catalog.GetTrack(ctx, event.Track.URI)
	if err != nil {
		slog.Warn(
			"failed to fetch track metadata for announcement",
			"uri", event.Track.URI,
			"error", err,
		)
		track = *event.Track
	}

	requester := event.RequesterName
	if requester == "" {
		requester = domain.UnknownUser.DisplayName
	}

	if err := h.announcer.AnnounceNowPlaying(ctx, track, requester); err != nil {
		slog.Error(
			"failed to announce now playing",
			"uri", track.URI,
			"index", event.Index,
			"error", err,
		)
	}
}
