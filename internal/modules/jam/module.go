package jam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/caarlos0/env/v11"

	"github.com/sglre6355/sgrjam/internal/app"
	"github.com/sglre6355/sgrjam/internal/modules/jam/application"
	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/application/session"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
	"github.com/sglre6355/sgrjam/internal/modules/jam/infrastructure"
	"github.com/sglre6355/sgrjam/internal/modules/jam/presentation/shell"
)

// shutdownTimeout bounds the session shutdown, not counting the grace period.
const shutdownTimeout = 10 * time.Second

// ErrDiscordRequired is returned when Discord features are configured without a session.
var ErrDiscordRequired = errors.New("DISCORD_TOKEN is required for Lavalink playback and announcements")

func init() {
	app.Register(&JamModule{})
}

// Compile-time interface checks.
var _ app.ConfigurableModule = (*JamModule)(nil)

// JamModule hosts or joins a shared listening queue.
type JamModule struct {
	config *Config

	eventBus      *infrastructure.ChannelEventBus
	transport     *infrastructure.P2PTransport
	sqlite        *infrastructure.SQLiteCatalog
	catalogServer *infrastructure.CatalogServer
	lavalink      *infrastructure.LavalinkPlayer

	host   *session.HostSession
	client *clientController

	hostHandlers   *shell.HostHandlers
	clientHandlers *shell.ClientHandlers

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Name returns the module name.
func (m *JamModule) Name() string {
	return "jam"
}

// Commands returns the shell commands for the configured role.
func (m *JamModule) Commands() []app.Command {
	if m.config.Role == RoleHost {
		return shell.HostCommands()
	}
	return shell.ClientCommands()
}

// CommandHandlers returns the command handlers for the configured role.
func (m *JamModule) CommandHandlers() map[string]app.CommandHandler {
	if m.hostHandlers != nil {
		return m.hostHandlers.Handlers()
	}
	if m.clientHandlers != nil {
		return m.clientHandlers.Handlers()
	}
	return nil
}

// EventHandlers returns the event handlers for this module.
func (m *JamModule) EventHandlers() []app.EventHandler {
	return []app.EventHandler{
		func(_ *discordgo.Session, event *discordgo.VoiceServerUpdate) {
			if m.lavalink != nil {
				m.lavalink.OnVoiceServerUpdate(event)
			}
		},
		func(_ *discordgo.Session, event *discordgo.VoiceStateUpdate) {
			if m.lavalink != nil {
				m.lavalink.OnVoiceStateUpdate(event)
			}
		},
	}
}

// LoadConfig loads module-specific configuration from environment variables.
func (m *JamModule) LoadConfig() error {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	m.config = cfg
	return nil
}

// Init initializes the module.
func (m *JamModule) Init(deps app.ModuleDependencies) error {
	if deps.Session == nil && (m.config.usesLavalink() || m.config.DiscordAnnounceChannelID != 0) {
		return ErrDiscordRequired
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.eventBus = infrastructure.NewChannelEventBus(infrastructure.DefaultEventBufferSize)

	transport, err := infrastructure.NewP2PTransport(infrastructure.P2PConfig{
		ListenPort: m.config.ListenPort,
		KeyFile:    m.config.KeyFile,
		EnableMDNS: !m.config.DisableMDNS,
	})
	if err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	m.transport = transport

	if err := shell.NewEventPrinter(deps.Output, m.eventBus).Start(); err != nil {
		return err
	}

	if m.config.Role == RoleHost {
		return m.initHost(deps)
	}
	return m.initClient(deps)
}

func (m *JamModule) credentials() domain.Credentials {
	return domain.Credentials{
		UserID:      domain.UserID(m.config.UserID),
		DisplayName: m.config.displayName(),
		AccessToken: m.config.AccessToken,
	}
}

func (m *JamModule) initHost(deps app.ModuleDependencies) error {
	catalog, err := m.openCatalog()
	if err != nil {
		return err
	}

	// Clients read the backing playlist through the host's catalog.
	m.catalogServer = infrastructure.NewCatalogServer(m.transport.Host(), catalog)
	m.catalogServer.Start()

	player, err := m.newPlayer(deps.Session, catalog)
	if err != nil {
		return err
	}

	if err := m.startAnnouncements(deps.Session, catalog); err != nil {
		return err
	}

	m.host = session.NewHostSession(
		session.HostConfig{
			SessionName:    m.config.sessionName(),
			FairPlay:       m.config.FairPlay,
			FillerPlaylist: domain.PlaylistID(m.config.FillerPlaylist),
			Autoplay:       m.config.Autoplay,
			CatalogRetry: session.RetryPolicy{
				Attempts: m.config.CatalogRetries,
				Delay:    m.config.CatalogRetryDelay,
			},
			ReleaseTimeout: m.config.PlayerReleaseTimeout,
		},
		m.credentials(),
		catalog,
		m.transport,
		player,
		m.eventBus,
	)
	m.hostHandlers = shell.NewHostHandlers(m.host, catalog)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.host.Run(m.ctx); err != nil {
			slog.Error("host session ended", "error", err)
		}
	}()

	slog.Info("jam module initialized as host",
		"session", m.config.sessionName(),
		"addrs", m.transport.ListenAddrs(),
	)
	return nil
}

func (m *JamModule) openCatalog() (ports.CatalogService, error) {
	if m.config.CatalogPath == "" {
		slog.Warn("no catalog path configured, the jam playlist will not outlive this process")
		return infrastructure.NewMemoryCatalog(), nil
	}

	catalog, err := infrastructure.OpenSQLiteCatalog(m.config.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	m.sqlite = catalog
	return catalog, nil
}

func (m *JamModule) newPlayer(s *discordgo.Session, catalog ports.CatalogService) (ports.Player, error) {
	if !m.config.usesLavalink() {
		slog.Info("using silent clock player", "scale", m.config.ClockScale)
		return infrastructure.NewClockPlayer(catalog, m.config.ClockScale), nil
	}

	player, err := infrastructure.NewLavalinkPlayer(s, catalog, infrastructure.LavalinkConfig{
		Address:        m.config.LavalinkAddress,
		Password:       m.config.LavalinkPassword,
		GuildID:        m.config.DiscordGuildID,
		VoiceChannelID: m.config.DiscordVoiceChannelID,
	})
	if err != nil {
		return nil, err
	}
	m.lavalink = player
	return player, nil
}

func (m *JamModule) startAnnouncements(s *discordgo.Session, catalog ports.CatalogService) error {
	if m.config.DiscordAnnounceChannelID == 0 {
		return nil
	}

	announcer := infrastructure.NewDiscordAnnouncer(s, m.config.DiscordAnnounceChannelID)
	return application.NewAnnouncementEventHandler(catalog, announcer, m.eventBus).Start()
}

func (m *JamModule) initClient(deps app.ModuleDependencies) error {
	catalog, err := infrastructure.NewP2PCatalog(m.transport.Host(), "")
	if err != nil {
		return err
	}

	if err := m.startAnnouncements(deps.Session, catalog); err != nil {
		return err
	}

	m.client = newClientController(
		m.ctx,
		session.ClientConfig{MaxRetries: m.config.ConnectRetries},
		m.credentials(),
		catalog,
		m.transport,
		m.transport,
		m.eventBus,
	)
	m.clientHandlers = shell.NewClientHandlers(m.client)

	if m.config.HostEndpoint != "" {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.client.Join(m.ctx, m.config.HostEndpoint); err != nil {
				slog.Error("failed to join configured host", "endpoint", m.config.HostEndpoint, "error", err)
			}
		}()
	}

	slog.Info("jam module initialized as client", "peer", m.transport.LocalEndpoint())
	return nil
}

// Shutdown ends the session and releases every resource.
func (m *JamModule) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if m.host != nil {
		m.shutdownHost(ctx)
	}
	if m.client != nil {
		m.client.Close(ctx)
	}

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	if m.catalogServer != nil {
		m.catalogServer.Stop()
	}
	if m.lavalink != nil {
		m.lavalink.Close()
	}

	var errs []error
	if m.transport != nil {
		errs = append(errs, m.transport.Close())
	}
	if m.sqlite != nil {
		errs = append(errs, m.sqlite.Close())
	}
	if m.eventBus != nil {
		m.eventBus.Close()
	}
	return errors.Join(errs...)
}

func (m *JamModule) shutdownHost(ctx context.Context) {
	snap, err := m.host.Snapshot(ctx)
	if err != nil && !errors.Is(err, session.ErrSessionClosed) {
		slog.Warn("failed to read host state before shutdown", "error", err)
	}

	if err := m.host.Shutdown(ctx); err != nil {
		slog.Warn("failed to shut down host session", "error", err)
	}

	if len(snap.Clients) == 0 || m.config.ShutdownGrace <= 0 {
		return
	}
	slog.Info("keeping catalog available for clients",
		"clients", len(snap.Clients),
		"grace", m.config.ShutdownGrace,
	)
	time.Sleep(m.config.ShutdownGrace)
}
