package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// ErrUnknownCommand is returned by Dispatch for a command no module handles.
var ErrUnknownCommand = errors.New("unknown command")

// Built-in shell commands.
const (
	helpCommand = "help"
	quitCommand = "quit"
)

// App manages the application lifecycle and module coordination.
type App struct {
	config   *Config
	session  *discordgo.Session
	modules  []Module
	commands []Command
	handlers map[string]CommandHandler
	output   *TerminalResponder
}

// NewApp creates a new App writing asynchronous output to out.
func NewApp(cfg *Config, out io.Writer) *App {
	return &App{
		config:   cfg,
		modules:  make([]Module, 0),
		handlers: make(map[string]CommandHandler),
		output:   NewTerminalResponder(out),
	}
}

// LoadModules loads modules from the global registry.
func (a *App) LoadModules() {
	a.modules = Modules()
}

// Start loads module configuration, connects to Discord if a token is set,
// and initializes every module.
func (a *App) Start() error {
	if err := a.loadModuleConfigs(); err != nil {
		return fmt.Errorf("failed to load module configuration: %w", err)
	}

	if a.config.DiscordToken != "" {
		session, err := discordgo.New("Bot " + a.config.DiscordToken)
		if err != nil {
			return fmt.Errorf("failed to create Discord session: %w", err)
		}
		session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

		// Modules read the bot user during Init.
		if err := session.Open(); err != nil {
			return fmt.Errorf("failed to open Discord connection: %w", err)
		}
		a.session = session

		slog.Info("connected to Discord",
			"user_id", session.State.User.ID,
			"username", session.State.User.Username,
		)
	}

	if err := a.initModules(); err != nil {
		return fmt.Errorf("failed to initialize modules: %w", err)
	}

	a.buildHandlerMap()

	if a.session != nil {
		a.registerEventHandlers()
	}

	return nil
}

// Stop gracefully shuts down the app.
func (a *App) Stop() error {
	for _, mod := range slices.Backward(a.modules) {
		if err := mod.Shutdown(); err != nil {
			slog.Warn("failed to shutdown module", "module", mod.Name(), "error", err)
		}
	}

	if a.session != nil {
		return a.session.Close()
	}

	return nil
}

// loadModuleConfigs calls LoadConfig on every configurable module.
func (a *App) loadModuleConfigs() error {
	for _, mod := range a.modules {
		cm, ok := mod.(ConfigurableModule)
		if !ok {
			continue
		}
		if err := cm.LoadConfig(); err != nil {
			return fmt.Errorf("%s: %w", mod.Name(), err)
		}
	}
	return nil
}

// initModules initializes all loaded modules.
func (a *App) initModules() error {
	deps := ModuleDependencies{
		Session: a.session,
		Output:  a.output,
	}

	for _, mod := range a.modules {
		if err := mod.Init(deps); err != nil {
			return fmt.Errorf("failed to initialize %s module: %w", mod.Name(), err)
		}
		slog.Debug("initialized module", "module", mod.Name())
	}

	moduleNames := make([]string, len(a.modules))
	for i, mod := range a.modules {
		moduleNames[i] = mod.Name()
	}
	slog.Info("initialized modules", "modules", moduleNames)

	return nil
}

// buildHandlerMap builds the command name to handler mapping.
func (a *App) buildHandlerMap() {
	for _, mod := range a.modules {
		maps.Copy(a.handlers, mod.CommandHandlers())
		a.commands = append(a.commands, mod.Commands()...)
	}
}

// registerEventHandlers registers all module event handlers with the session.
func (a *App) registerEventHandlers() {
	for _, mod := range a.modules {
		for _, handler := range mod.EventHandlers() {
			a.session.AddHandler(handler)
		}
	}
}

// Dispatch runs one command line. Handler errors are reported through r;
// only ErrUnknownCommand and responder failures are returned.
func (a *App) Dispatch(ctx context.Context, line string, r Responder) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	name, args := strings.ToLower(fields[0]), fields[1:]
	if name == helpCommand {
		return r.Respond(a.helpText())
	}

	handler, ok := a.handlers[name]
	if !ok {
		slog.Debug("found no handler for command", "command", name)
		if err := r.Respond(fmt.Sprintf("Unknown command %q. Type %q for a list of commands.", name, helpCommand)); err != nil {
			return err
		}
		return ErrUnknownCommand
	}

	if err := handler(ctx, args, r); err != nil {
		slog.Debug("failed to handle command", "command", name, "error", err)
		return r.Respond(fmt.Sprintf("Error: %v", err))
	}
	return nil
}

func (a *App) helpText() string {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, cmd := range a.commands {
		usage := cmd.Usage
		if usage == "" {
			usage = cmd.Name
		}
		fmt.Fprintf(&b, "\n  %-24s %s", usage, cmd.Description)
	}
	fmt.Fprintf(&b, "\n  %-24s %s", helpCommand, "Show this help")
	fmt.Fprintf(&b, "\n  %-24s %s", quitCommand, "Leave the session and exit")
	return b.String()
}

// commandNames returns every command the shell accepts, in help order.
func (a *App) commandNames() []string {
	names := make([]string, 0, len(a.commands)+2)
	for _, cmd := range a.commands {
		names = append(names, cmd.Name)
	}
	return append(names, helpCommand, quitCommand)
}
