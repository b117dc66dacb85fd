package shell

import (
	"errors"
	"fmt"

	"github.com/sglre6355/sgrjam/internal/app"
)

// ErrInvalidArguments is returned when a command is called with the wrong arguments.
var ErrInvalidArguments = errors.New("invalid arguments")

func usageError(cmd app.Command) error {
	return fmt.Errorf("%w: usage: %s", ErrInvalidArguments, cmd.Usage)
}

// Shell commands.
var (
	cmdQueue = app.Command{Name: "queue", Usage: "queue", Description: "Show the shared queue"}

	cmdAdd     = app.Command{Name: "add", Usage: "add <uri>", Description: "Request a track as the host"}
	cmdPlay    = app.Command{Name: "play", Usage: "play", Description: "Start playback"}
	cmdPause   = app.Command{Name: "pause", Usage: "pause", Description: "Pause playback"}
	cmdResume  = app.Command{Name: "resume", Usage: "resume", Description: "Resume playback"}
	cmdSkip    = app.Command{Name: "skip", Usage: "skip", Description: "Skip the current track"}
	cmdClients = app.Command{Name: "clients", Usage: "clients", Description: "List connected clients"}

	cmdDiscover = app.Command{Name: "discover", Usage: "discover", Description: "Look for jams on the local network"}
	cmdHosts    = app.Command{Name: "hosts", Usage: "hosts", Description: "List discovered jams"}
	cmdJoin     = app.Command{Name: "join", Usage: "join <endpoint>", Description: "Join a jam by peer ID or address"}
	cmdRequest  = app.Command{Name: "request", Usage: "request <uri>", Description: "Request a track"}
	cmdFollow   = app.Command{Name: "follow", Usage: "follow", Description: "Follow the jam playlist and leave"}
	cmdLeave    = app.Command{Name: "leave", Usage: "leave [follow]", Description: "Leave the jam"}
	cmdRename   = app.Command{
		Name:        "rename",
		Usage:       "rename <name>",
		Description: "Follow the jam playlist under a new name and leave",
	}
)

// HostCommands returns the commands served by HostHandlers.
func HostCommands() []app.Command {
	return []app.Command{cmdAdd, cmdPlay, cmdPause, cmdResume, cmdSkip, cmdQueue, cmdClients}
}

// ClientCommands returns the commands served by ClientHandlers.
func ClientCommands() []app.Command {
	return []app.Command{
		cmdDiscover, cmdHosts, cmdJoin, cmdRequest, cmdQueue, cmdFollow, cmdLeave, cmdRename,
	}
}
