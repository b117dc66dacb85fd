package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// RunShell reads commands from the terminal until quit, EOF or ctx is done.
// Output written by modules is redrawn above the prompt while it runs.
func (a *App) RunShell(ctx context.Context, prompt string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     a.config.HistoryFile,
		AutoComplete:    a.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       quitCommand,
	})
	if err != nil {
		return err
	}

	var closeOnce sync.Once
	closeShell := func() {
		closeOnce.Do(func() { _ = rl.Close() })
	}
	defer closeShell()
	stop := context.AfterFunc(ctx, closeShell)
	defer stop()

	prev := a.output.SetWriter(rl.Stdout())
	defer a.output.SetWriter(prev)

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		line = strings.TrimSpace(line)
		if line == quitCommand || line == "exit" {
			return nil
		}
		if err := a.Dispatch(ctx, line, a.output); err != nil && !errors.Is(err, ErrUnknownCommand) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (a *App) completer() *readline.PrefixCompleter {
	names := a.commandNames()
	items := make([]readline.PrefixCompleterInterface, 0, len(names))
	for _, name := range names {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}
