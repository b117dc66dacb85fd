package session

import (
	"context"
	"sync"
)

const inboxSize = 64

// command runs on the event loop and reports its result to the caller.
type command struct {
	run   func() error
	reply chan error
}

// loop is the sequential event loop shared by host and client sessions.
// All session state is mutated from handle calls on the loop only; work that
// may block runs through spawn and re-enters the loop as an event.
type loop struct {
	inbox chan any
	// spawn runs fn off the loop and posts its result back to the inbox.
	spawn func(fn func() any)

	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func newLoop() *loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{
		inbox:  make(chan any, inboxSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	l.spawn = l.goSpawn
	return l
}

// bind derives the loop context from the context Run was called with.
func (l *loop) bind(parent context.Context) {
	l.cancel()
	l.ctx, l.cancel = context.WithCancel(parent)
}

func (l *loop) goSpawn(fn func() any) {
	go func() {
		ev := fn()
		if ev == nil {
			return
		}
		select {
		case l.inbox <- ev:
		case <-l.ctx.Done():
		}
	}()
}

// post delivers ev to the loop.
func (l *loop) post(ctx context.Context, ev any) error {
	select {
	case l.inbox <- ev:
		return nil
	case <-l.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exec runs fn on the loop and waits for its result.
func (l *loop) exec(ctx context.Context, fn func() error) error {
	cmd := command{run: fn, reply: make(chan error, 1)}
	if err := l.post(ctx, cmd); err != nil {
		return err
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-l.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish stops the loop with err as the result of Run.
func (l *loop) finish(err error) {
	l.doneOnce.Do(func() {
		l.err = err
		close(l.done)
		l.cancel()
	})
}

func (l *loop) finished() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Done is closed once the session stopped.
func (l *loop) Done() <-chan struct{} {
	return l.done
}
