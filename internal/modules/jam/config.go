package jam

import (
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Role selects which side of a jam this process runs.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// UnmarshalText validates the role name.
func (r *Role) UnmarshalText(text []byte) error {
	switch role := Role(text); role {
	case RoleHost, RoleClient:
		*r = role
		return nil
	default:
		return fmt.Errorf("invalid role %q: must be %q or %q", text, RoleHost, RoleClient)
	}
}

// Config holds the jam module configuration.
type Config struct {
	Role        Role   `env:"SGRJAM_ROLE"         envDefault:"client"`
	UserID      string `env:"SGRJAM_USER_ID,notEmpty"`
	DisplayName string `env:"SGRJAM_DISPLAY_NAME"`
	AccessToken string `env:"SGRJAM_ACCESS_TOKEN"`

	SessionName string `env:"SGRJAM_SESSION_NAME"`
	ListenPort  int    `env:"SGRJAM_LISTEN_PORT"  envDefault:"0"`
	KeyFile     string `env:"SGRJAM_KEY_FILE"`
	DisableMDNS bool   `env:"SGRJAM_DISABLE_MDNS"`
	// HostEndpoint is joined on startup by a client. Peer ID or full multiaddr.
	HostEndpoint string `env:"SGRJAM_HOST_ENDPOINT"`

	// CatalogPath is the SQLite database a host serves. Empty keeps the
	// catalog in memory.
	CatalogPath    string `env:"SGRJAM_CATALOG_PATH"`
	FairPlay       bool   `env:"SGRJAM_FAIR_PLAY"       envDefault:"true"`
	FillerPlaylist string `env:"SGRJAM_FILLER_PLAYLIST"`
	Autoplay       bool   `env:"SGRJAM_AUTOPLAY"`
	// ClockScale speeds up the silent player. 1 plays tracks in real time.
	ClockScale float64 `env:"SGRJAM_CLOCK_SCALE" envDefault:"1"`

	ConnectRetries       int           `env:"SGRJAM_CONNECT_RETRIES"        envDefault:"3"`
	CatalogRetries       int           `env:"SGRJAM_CATALOG_RETRIES"        envDefault:"5"`
	CatalogRetryDelay    time.Duration `env:"SGRJAM_CATALOG_RETRY_DELAY"    envDefault:"500ms"`
	PlayerReleaseTimeout time.Duration `env:"SGRJAM_PLAYER_RELEASE_TIMEOUT" envDefault:"5s"`
	// ShutdownGrace keeps a host's catalog reachable after it ended the jam,
	// so clients can still follow the playlist.
	ShutdownGrace time.Duration `env:"SGRJAM_SHUTDOWN_GRACE" envDefault:"30s"`

	LavalinkAddress          string       `env:"LAVALINK_ADDRESS"`
	LavalinkPassword         string       `env:"LAVALINK_PASSWORD"`
	DiscordGuildID           snowflake.ID `env:"DISCORD_GUILD_ID"`
	DiscordVoiceChannelID    snowflake.ID `env:"DISCORD_VOICE_CHANNEL_ID"`
	DiscordAnnounceChannelID snowflake.ID `env:"DISCORD_ANNOUNCE_CHANNEL_ID"`
}

// validate checks combinations the struct tags cannot express.
func (c *Config) validate() error {
	if c.ConnectRetries < 0 || c.CatalogRetries < 0 {
		return errors.New("retry counts must not be negative")
	}
	if c.ClockScale <= 0 {
		return errors.New("SGRJAM_CLOCK_SCALE must be positive")
	}
	if c.LavalinkAddress != "" {
		if c.LavalinkPassword == "" {
			return errors.New("LAVALINK_PASSWORD is required with LAVALINK_ADDRESS")
		}
		if c.DiscordGuildID == 0 || c.DiscordVoiceChannelID == 0 {
			return errors.New("DISCORD_GUILD_ID and DISCORD_VOICE_CHANNEL_ID are required with LAVALINK_ADDRESS")
		}
	}
	if c.DiscordAnnounceChannelID != 0 && c.DiscordGuildID == 0 {
		return errors.New("DISCORD_GUILD_ID is required with DISCORD_ANNOUNCE_CHANNEL_ID")
	}
	return nil
}

// usesLavalink reports whether the host should play through Lavalink.
func (c *Config) usesLavalink() bool {
	return c.LavalinkAddress != ""
}

func (c *Config) sessionName() string {
	if c.SessionName != "" {
		return c.SessionName
	}
	return c.displayName() + "'s jam"
}

func (c *Config) displayName() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.UserID
}
