// Package voice drives the listen / think / speak lifecycle of one voice
// session.
package voice

// State is the session's position in the voice lifecycle.
type State string

const (
	Idle       State = "idle"
	Listening  State = "listening"
	Processing State = "processing"
	Responding State = "responding"
	Error      State = "error"
)

// Trigger is an input to the state machine.
type Trigger string

const (
	Wake             Trigger = "wake"
	ManualStart      Trigger = "manual_start"
	ManualStop       Trigger = "manual_stop"
	CaptureEnded     Trigger = "capture_ended"
	SpeechFinal      Trigger = "speech_final"
	RecognitionError Trigger = "recognition_error"
	ReplyReady       Trigger = "reply_ready"
	Failure          Trigger = "failure"
	PlaybackEnded    Trigger = "playback_ended"
	Announce         Trigger = "announce"
	Recovered        Trigger = "recovered"
)

var transitions = map[State]map[Trigger]State{
	Idle: {
		Wake:        Listening,
		ManualStart: Listening,
		Announce:    Responding,
	},
	Listening: {
		SpeechFinal:      Processing,
		ManualStop:       Idle,
		CaptureEnded:     Idle,
		RecognitionError: Error,
	},
	Processing: {
		ReplyReady: Responding,
		Failure:    Error,
	},
	Responding: {
		PlaybackEnded: Idle,
		Wake:          Listening,
		ManualStart:   Listening,
		Failure:       Error,
	},
	Error: {
		Recovered: Idle,
	},
}

// Next returns the state reached from s on t. ok is false when t is not
// accepted in s, in which case s is returned unchanged.
func Next(s State, t Trigger) (next State, ok bool) {
	next, ok = transitions[s][t]
	if !ok {
		return s, false
	}
	return next, true
}
