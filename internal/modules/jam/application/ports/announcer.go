package ports

import (
	"context"

	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// Announcer posts now-playing notices outside the session, e.g. to a chat channel.
type Announcer interface {
	AnnounceNowPlaying(ctx context.Context, track domain.Track, requesterName string) error
}
