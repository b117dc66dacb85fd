package app

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// CommandHandler handles one shell command line. args excludes the command name.
type CommandHandler func(ctx context.Context, args []string, r Responder) error

// EventHandler is a generic handler for any Discord event.
// It should be a function matching one of discordgo's handler signatures,
// e.g., func(s *discordgo.Session, m *discordgo.VoiceStateUpdate)
type EventHandler any

// Command describes a shell command for help output and completion.
type Command struct {
	Name        string
	Usage       string
	Description string
}

// ModuleDependencies provides dependencies that modules may need during initialization.
type ModuleDependencies struct {
	// Session is nil when no Discord token is configured.
	Session *discordgo.Session

	// Output receives asynchronous notices, such as session events.
	Output Responder
}

// Module defines the interface that all application modules must implement.
type Module interface {
	// Name returns the unique identifier for this module.
	Name() string

	// Commands returns the shell commands that this module provides.
	// It is called after Init.
	Commands() []Command

	// CommandHandlers returns a map of command names to their handlers.
	CommandHandlers() map[string]CommandHandler

	// EventHandlers returns Discord event handlers for this module.
	// They are only registered when a Discord session exists.
	EventHandlers() []EventHandler

	// Init initializes the module with the provided dependencies.
	Init(deps ModuleDependencies) error

	// Shutdown gracefully shuts down the module.
	Shutdown() error
}

// ConfigurableModule is an optional interface for modules that need configuration.
// Modules implementing this interface will have LoadConfig called before Init.
type ConfigurableModule interface {
	// LoadConfig loads and validates module-specific configuration.
	// Should return an error if required configuration is missing or invalid.
	LoadConfig() error
}
