package session

import "errors"

// Session errors.
var (
	// ErrSessionClosed is returned when a command reaches a session that stopped.
	ErrSessionClosed = errors.New("session is closed")

	// ErrSessionFailed is returned by Run when session setup exhausted its retries.
	ErrSessionFailed = errors.New("session failed")

	// ErrJoinFailed is returned by Run when the client never reached the host.
	ErrJoinFailed = errors.New("could not connect to host")

	// ErrRetriesExhausted is returned when a retried catalog call kept failing.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrNotReady is returned when the host has no backing playlist yet.
	ErrNotReady = errors.New("session is not ready")

	// ErrQueueEmpty is returned when starting playback with nothing queued.
	ErrQueueEmpty = errors.New("the queue is empty")

	// ErrAlreadyPlaying is returned when starting playback twice.
	ErrAlreadyPlaying = errors.New("playback already started")

	// ErrNotPlaying is returned when no track is currently playing.
	ErrNotPlaying = errors.New("nothing is currently playing")

	// ErrNotPaused is returned when trying to resume while not paused.
	ErrNotPaused = errors.New("playback is not paused")

	// ErrAlreadyJoined is returned when joining while already in a session.
	ErrAlreadyJoined = errors.New("already joined a session")

	// ErrNotJoined is returned when an operation requires a joined session.
	ErrNotJoined = errors.New("not joined to a session")
)
