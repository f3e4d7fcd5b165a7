package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kalambet/aide/internal/assistant"
	"github.com/kalambet/aide/internal/persona"
	"github.com/kalambet/aide/internal/voice"
)

// voiceInbound is a client message on the voice socket.
type voiceInbound struct {
	// wake, start, stop, transcript, recognition_error, capture_end,
	// playback_ended, playback_failed
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	ID      uint64 `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// voiceOutbound is a server message on the voice socket.
type voiceOutbound struct {
	// state, capture, play, stop_playback, error
	Type    string       `json:"type"`
	State   voice.State  `json:"state,omitempty"`
	Action  string       `json:"action,omitempty"`
	ID      uint64       `json:"id,omitempty"`
	Audio   *voice.Audio `json:"audio,omitempty"`
	Message string       `json:"message,omitempty"`
}

type recognitionError string

func (e recognitionError) Error() string { return string(e) }

// handleVoice runs one voice session per socket. The browser owns the
// microphone and speaker; the session decides when to capture and speak.
func handleVoice(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: deps.OriginPatterns})
		if err != nil {
			slog.Warn("voice socket upgrade failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		out := make(chan voiceOutbound, 64)
		send := func(m voiceOutbound) {
			select {
			case out <- m:
			case <-ctx.Done():
			}
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case m := <-out:
					if err := writeWithTimeout(ctx, conn, m); err != nil {
						slog.Debug("voice socket write failed", "error", err)
						return
					}
				}
			}
		}()

		rec := &voice.StreamRecognizer{Control: func(cmd string) {
			action := "start"
			if cmd == voice.CmdStopCapture {
				action = "stop"
			}
			send(voiceOutbound{Type: "capture", Action: action})
		}}
		player := &voice.StreamPlayer{
			Send: func(pctx context.Context, cmd voice.PlayCommand) error {
				a := cmd.Audio
				select {
				case out <- voiceOutbound{Type: "play", ID: cmd.ID, Audio: &a}:
					return nil
				case <-pctx.Done():
					return pctx.Err()
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			Control: func(cmd string, id uint64) {
				send(voiceOutbound{Type: "stop_playback", ID: id})
			},
		}

		session := voice.NewSession(voice.Config{
			Recognizer:  rec,
			Synthesizer: deps.Synthesizer,
			Player:      player,
			Turn: func(tctx context.Context, transcript string, interim func(string)) (voice.Reply, error) {
				res, err := deps.Assistant.HandleTurn(tctx, transcript, "voice", interim)
				if err != nil {
					return voice.Reply{}, err
				}
				return voice.Reply{Text: res.Reply.Text, Voice: deps.Persona.Current().VoiceIdentity}, nil
			},
			Voice: func() string { return deps.Persona.Current().VoiceIdentity },
		})

		changes, unsubscribe := session.Subscribe(32)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range changes {
				send(voiceOutbound{Type: "state", State: c.To})
				deps.Bus.Publish(assistant.EventStateChanged, c)
			}
		}()

		events, unsubscribeBus := deps.Bus.Subscribe(8)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range events {
				if ev.Type != assistant.EventTierUnlocked {
					continue
				}
				if tr, ok := ev.Data.(persona.Transition); ok {
					if err := session.Say(tr.Text); err != nil && !errors.Is(err, voice.ErrBusy) {
						slog.Debug("tier announcement not spoken", "error", err)
					}
				}
			}
		}()

		defer func() {
			cancel()
			unsubscribeBus()
			session.Close()
			unsubscribe()
			wg.Wait()
		}()

		send(voiceOutbound{Type: "state", State: session.State()})
		readVoice(ctx, conn, session, rec, player, send)
	}
}

func readVoice(ctx context.Context, conn *websocket.Conn, s *voice.Session, rec *voice.StreamRecognizer, p *voice.StreamPlayer, send func(voiceOutbound)) {
	for {
		var msg voiceInbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("voice socket read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case "wake":
			err := s.Wake()
			reportBusy(err, send)
		case "start":
			err := s.StartListening()
			reportBusy(err, send)
		case "stop":
			s.Stop()
		case "transcript":
			kind := voice.EventInterim
			if msg.Final {
				kind = voice.EventFinal
			}
			rec.Push(voice.RecognitionEvent{Kind: kind, Text: msg.Text})
		case "recognition_error":
			rec.Push(voice.RecognitionEvent{Kind: voice.EventError, Err: recognitionError(msg.Message)})
		case "capture_end":
			rec.Push(voice.RecognitionEvent{Kind: voice.EventEnd})
		case "playback_ended":
			p.Ended(msg.ID)
		case "playback_failed":
			p.Failed(msg.ID)
		default:
			send(voiceOutbound{Type: "error", Message: "unknown message type " + msg.Type})
		}
	}
}

func reportBusy(err error, send func(voiceOutbound)) {
	if err != nil {
		send(voiceOutbound{Type: "error", Message: err.Error()})
	}
}
