package infrastructure

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// CatalogProtocol serves a host's catalog to joined clients.
const CatalogProtocol = protocol.ID("/sgrjam/catalog/1.0.0")

const catalogCallTimeout = 10 * time.Second

// Catalog RPC methods.
const (
	methodGetCurrentUser    = "get_current_user"
	methodCreatePlaylist    = "create_playlist"
	methodGetTracksPage     = "get_tracks_page"
	methodAddTrack          = "add_track"
	methodGetUserByID       = "get_user_by_id"
	methodGetTrack          = "get_track"
	methodFollowPlaylist    = "follow_playlist"
	methodUnfollowPlaylist  = "unfollow_playlist"
	methodRenamePlaylist    = "rename_playlist"
	methodFollowedPlaylists = "followed_playlists"
)

// ErrUnknownMethod is returned by the server for a method it does not serve.
var ErrUnknownMethod = errors.New("unknown catalog method")

// catalogErrors maps wire codes to the sentinels shared by catalog adapters.
var catalogErrors = map[string]error{
	"unauthorized":          ErrUnauthorized,
	"forbidden":             ErrForbidden,
	"user_not_found":        ErrUserNotFound,
	"track_not_found":       ErrTrackNotFound,
	"playlist_not_found":    ErrPlaylistNotFound,
	"position_out_of_range": ErrPositionOutOfRange,
	"invalid_page":          ErrInvalidPage,
	"playlist_not_followed": ErrPlaylistNotFollowed,
	"unknown_method":        ErrUnknownMethod,
}

type catalogRequest struct {
	ID         string             `json:"id"`
	Method     string             `json:"method"`
	Creds      domain.Credentials `json:"creds"`
	PlaylistID domain.PlaylistID  `json:"playlist_id,omitempty"`
	UserID     domain.UserID      `json:"user_id,omitempty"`
	URI        domain.TrackURI    `json:"uri,omitempty"`
	Name       string             `json:"name,omitempty"`
	Position   *int               `json:"position,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Offset     int                `json:"offset,omitempty"`
}

type catalogResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// playlistLister is implemented by catalogs that can list a user's library.
type playlistLister interface {
	FollowedPlaylists(ctx context.Context, userID domain.UserID) ([]domain.Playlist, error)
}

// CatalogServer answers catalog calls from peers, one request per stream.
type CatalogServer struct {
	host    host.Host
	catalog ports.CatalogService
}

// NewCatalogServer creates a CatalogServer backed by catalog.
func NewCatalogServer(h host.Host, catalog ports.CatalogService) *CatalogServer {
	return &CatalogServer{host: h, catalog: catalog}
}

// Start installs the stream handler.
func (s *CatalogServer) Start() {
	s.host.SetStreamHandler(CatalogProtocol, s.handleStream)
}

// Stop removes the stream handler.
func (s *CatalogServer) Stop() {
	s.host.RemoveStreamHandler(CatalogProtocol)
}

func (s *CatalogServer) handleStream(stream network.Stream) {
	defer stream.Close()

	remote := stream.Conn().RemotePeer().String()

	var req catalogRequest
	_ = stream.SetReadDeadline(time.Now().Add(catalogCallTimeout))
	if err := json.NewDecoder(bufio.NewReader(stream)).Decode(&req); err != nil {
		slog.Debug("invalid catalog request", "peer", remote, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), catalogCallTimeout)
	defer cancel()

	resp := catalogResponse{ID: req.ID}
	result, err := s.dispatch(ctx, req)
	if err != nil {
		resp.Code = errorCode(err)
		resp.Error = err.Error()
		slog.Debug("catalog call failed", "peer", remote, "method", req.Method, "error", err)
	} else if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			slog.Error("failed to encode catalog result", "method", req.Method, "error", err)
			return
		}
		resp.Result = raw
	}

	_ = stream.SetWriteDeadline(time.Now().Add(catalogCallTimeout))
	if err := json.NewEncoder(stream).Encode(resp); err != nil {
		slog.Debug("failed to answer catalog call", "peer", remote, "error", err)
	}
}

func (s *CatalogServer) dispatch(ctx context.Context, req catalogRequest) (any, error) {
	switch req.Method {
	case methodGetCurrentUser:
		return s.catalog.GetCurrentUser(ctx, req.Creds)
	case methodCreatePlaylist:
		return s.catalog.CreatePlaylist(ctx, req.Creds, req.UserID, req.Name)
	case methodGetTracksPage:
		return s.catalog.GetPlaylistTracksPage(ctx, req.PlaylistID, req.Limit, req.Offset)
	case methodAddTrack:
		return nil, s.catalog.AddTrackAtPosition(ctx, req.Creds, req.PlaylistID, req.URI, req.Position)
	case methodGetUserByID:
		return s.catalog.GetUserByID(ctx, req.UserID)
	case methodGetTrack:
		return s.catalog.GetTrack(ctx, req.URI)
	case methodFollowPlaylist:
		return nil, s.catalog.FollowPlaylist(ctx, req.Creds, req.PlaylistID)
	case methodUnfollowPlaylist:
		return nil, s.catalog.UnfollowPlaylist(ctx, req.Creds, req.PlaylistID)
	case methodRenamePlaylist:
		return nil, s.catalog.RenamePlaylist(ctx, req.Creds, req.PlaylistID, req.Name)
	case methodFollowedPlaylists:
		lister, ok := s.catalog.(playlistLister)
		if !ok {
			return nil, ErrUnknownMethod
		}
		return lister.FollowedPlaylists(ctx, req.UserID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
}

func errorCode(err error) string {
	for code, sentinel := range catalogErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

// Ensure P2PCatalog implements CatalogService.
var _ ports.CatalogService = (*P2PCatalog)(nil)

// P2PCatalog is a CatalogService served by a remote peer's CatalogServer.
// The remote can be changed between sessions with SetRemote.
type P2PCatalog struct {
	host host.Host

	mu     sync.RWMutex
	remote peer.ID
}

// NewP2PCatalog creates a catalog client calling remote through h.
// An empty remote leaves the catalog unbound until SetRemote.
func NewP2PCatalog(h host.Host, remote domain.Endpoint) (*P2PCatalog, error) {
	c := &P2PCatalog{host: h}
	if remote == "" {
		return c, nil
	}
	if err := c.SetRemote(remote); err != nil {
		return nil, err
	}
	return c, nil
}

// SetRemote points later calls at remote.
func (c *P2PCatalog) SetRemote(remote domain.Endpoint) error {
	id, err := peer.Decode(string(remote))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	c.mu.Lock()
	c.remote = id
	c.mu.Unlock()
	return nil
}

// call performs one request/response exchange and decodes the result into out.
func (c *P2PCatalog) call(ctx context.Context, req catalogRequest, out any) error {
	c.mu.RLock()
	remote := c.remote
	c.mu.RUnlock()
	if remote == "" {
		return ErrNotConnected
	}

	req.ID = uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, catalogCallTimeout)
	defer cancel()

	stream, err := c.host.NewStream(ctx, remote, CatalogProtocol)
	if err != nil {
		return fmt.Errorf("open catalog stream: %w", err)
	}
	defer stream.Close()

	deadline, _ := ctx.Deadline()
	_ = stream.SetDeadline(deadline)

	if err := json.NewEncoder(stream).Encode(req); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("send catalog request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return fmt.Errorf("send catalog request: %w", err)
	}

	var resp catalogResponse
	if err := json.NewDecoder(bufio.NewReader(stream)).Decode(&resp); err != nil {
		return fmt.Errorf("read catalog response: %w", err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("catalog response id mismatch: %s != %s", resp.ID, req.ID)
	}
	if resp.Error != "" {
		if sentinel, ok := catalogErrors[resp.Code]; ok {
			return fmt.Errorf("%w: %s", sentinel, resp.Error)
		}
		return errors.New(resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// GetCurrentUser registers creds with the remote catalog and returns the user.
func (c *P2PCatalog) GetCurrentUser(ctx context.Context, creds domain.Credentials) (domain.User, error) {
	var user domain.User
	err := c.call(ctx, catalogRequest{Method: methodGetCurrentUser, Creds: creds}, &user)
	return user, err
}

// CreatePlaylist creates a playlist on the remote catalog.
func (c *P2PCatalog) CreatePlaylist(
	ctx context.Context,
	creds domain.Credentials,
	ownerID domain.UserID,
	name string,
) (domain.Playlist, error) {
	var playlist domain.Playlist
	err := c.call(ctx, catalogRequest{
		Method: methodCreatePlaylist,
		Creds:  creds,
		UserID: ownerID,
		Name:   name,
	}, &playlist)
	return playlist, err
}

// GetPlaylistTracksPage returns up to limit tracks starting at offset.
func (c *P2PCatalog) GetPlaylistTracksPage(
	ctx context.Context,
	playlistID domain.PlaylistID,
	limit, offset int,
) (*ports.TracksPage, error) {
	var page ports.TracksPage
	err := c.call(ctx, catalogRequest{
		Method:     methodGetTracksPage,
		PlaylistID: playlistID,
		Limit:      limit,
		Offset:     offset,
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// AddTrackAtPosition inserts uri on the remote catalog.
func (c *P2PCatalog) AddTrackAtPosition(
	ctx context.Context,
	creds domain.Credentials,
	playlistID domain.PlaylistID,
	uri domain.TrackURI,
	position *int,
) error {
	return c.call(ctx, catalogRequest{
		Method:     methodAddTrack,
		Creds:      creds,
		PlaylistID: playlistID,
		URI:        uri,
		Position:   position,
	}, nil)
}

// GetUserByID looks up a user.
func (c *P2PCatalog) GetUserByID(ctx context.Context, id domain.UserID) (domain.User, error) {
	var user domain.User
	err := c.call(ctx, catalogRequest{Method: methodGetUserByID, UserID: id}, &user)
	return user, err
}

// GetTrack returns catalog metadata for uri.
func (c *P2PCatalog) GetTrack(ctx context.Context, uri domain.TrackURI) (domain.Track, error) {
	var track domain.Track
	err := c.call(ctx, catalogRequest{Method: methodGetTrack, URI: uri}, &track)
	return track, err
}

func (c *P2PCatalog) FollowPlaylist(ctx context.Context, creds domain.Credentials, id domain.PlaylistID) error {
	return c.call(ctx, catalogRequest{Method: methodFollowPlaylist, Creds: creds, PlaylistID: id}, nil)
}

func (c *P2PCatalog) UnfollowPlaylist(ctx context.Context, creds domain.Credentials, id domain.PlaylistID) error {
	return c.call(ctx, catalogRequest{Method: methodUnfollowPlaylist, Creds: creds, PlaylistID: id}, nil)
}

func (c *P2PCatalog) RenamePlaylist(
	ctx context.Context,
	creds domain.Credentials,
	id domain.PlaylistID,
	name string,
) error {
	return c.call(ctx, catalogRequest{
		Method:     methodRenamePlaylist,
		Creds:      creds,
		PlaylistID: id,
		Name:       name,
	}, nil)
}

// FollowedPlaylists lists a user's library on the remote catalog.
func (c *P2PCatalog) FollowedPlaylists(ctx context.Context, userID domain.UserID) ([]domain.Playlist, error) {
	var playlists []domain.Playlist
	err := c.call(ctx, catalogRequest{Method: methodFollowedPlaylists, UserID: userID}, &playlists)
	return playlists, err
}
