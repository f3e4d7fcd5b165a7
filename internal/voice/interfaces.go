package voice

import (
	"context"
	"errors"
)

// ErrBusy is returned when a request does not fit the current state, such
// as waking the session while a reply is being computed.
var ErrBusy = errors.New("voice session busy")

// ErrClosed is returned by a closed Session.
var ErrClosed = errors.New("voice session closed")

type EventKind string

const (
	EventStart   EventKind = "start"
	EventInterim EventKind = "interim"
	EventFinal   EventKind = "final"
	EventError   EventKind = "error"
	EventEnd     EventKind = "end"
)

// RecognitionEvent is one event from a speech recognizer.
type RecognitionEvent struct {
	Kind EventKind
	Text string
	Err  error
}

// Recognizer captures speech. The returned channel delivers the capture's
// events and is closed when the capture ends; cancelling ctx stops the
// capture. Implementations must not block sending once ctx is done.
type Recognizer interface {
	Start(ctx context.Context) (<-chan RecognitionEvent, error)
}

// Audio is a synthesized utterance. Data is empty when the text is meant to
// be spoken by the client.
type Audio struct {
	Text        string `json:"text"`
	Voice       string `json:"voice,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"audio,omitempty"`
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}

// Player plays audio and returns when playback ends. Cancelling ctx
// interrupts playback.
type Player interface {
	Play(ctx context.Context, a Audio) error
}

// Reply is what a turn returns for speaking.
type Reply struct {
	Text  string
	Voice string
}

// TurnFunc handles a final transcript. interim may be called while the
// reply is being computed to speak a placeholder.
type TurnFunc func(ctx context.Context, transcript string, interim func(text string)) (Reply, error)
