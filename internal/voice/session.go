package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// StateChange is delivered to subscribers on every transition.
type StateChange struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Trigger Trigger   `json:"trigger"`
	At      time.Time `json:"at"`
}

type Config struct {
	Recognizer  Recognizer
	Synthesizer Synthesizer
	Player      Player
	Turn        TurnFunc

	// Voice returns the voice identity used when a reply names none.
	Voice func() string

	Logger *slog.Logger
}

// Session is a single voice session. Every transition starts a new phase
// with its own epoch and context; work belonging to an older epoch is
// cancelled and its late events are ignored.
type Session struct {
	cfg    Config
	logger *slog.Logger

	base context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	state   State
	epoch   uint64
	cancel  context.CancelFunc
	subs    map[int]chan StateChange
	nextSub int
	closed  bool

	wg sync.WaitGroup
}

func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		logger: logger,
		base:   base,
		stop:   stop,
		state:  Idle,
		subs:   make(map[int]chan StateChange),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers an observer. Changes are dropped for a subscriber
// whose buffer is full. The returned func unsubscribes.
func (s *Session) Subscribe(buf int) (<-chan StateChange, func()) {
	if buf < 1 {
		buf = 16
	}
	ch := make(chan StateChange, buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Wake starts listening. It is a no-op while already listening, and
// interrupts playback while responding.
func (s *Session) Wake() error { return s.listen(Wake) }

// StartListening is the manual equivalent of Wake.
func (s *Session) StartListening() error { return s.listen(ManualStart) }

func (s *Session) listen(t Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	switch s.state {
	case Listening:
		return nil
	case Processing, Error:
		return ErrBusy
	}
	epoch, ctx, ok := s.advanceLocked(s.epoch, t)
	if !ok {
		return ErrBusy
	}
	s.wg.Add(1)
	go s.capture(ctx, epoch)
	return nil
}

// Stop ends capture. The session returns to idle even when nothing was
// recognized. Stop outside listening is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Listening {
		s.advanceLocked(s.epoch, ManualStop)
	}
}

// Say speaks text outside of a turn, e.g. an announcement. It only runs
// from idle.
func (s *Session) Say(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != Idle {
		return ErrBusy
	}
	epoch, ctx, ok := s.advanceLocked(s.epoch, Announce)
	if !ok {
		return ErrBusy
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.play(ctx, epoch, Reply{Text: text})
	}()
	return nil
}

// Close cancels all in-flight work and waits for it to exit. Subscriber
// channels are closed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stop()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// advanceLocked applies t if epoch is still current. The running phase is
// cancelled and a new one begins. Error recovers to idle immediately.
func (s *Session) advanceLocked(epoch uint64, t Trigger) (uint64, context.Context, bool) {
	if s.closed || epoch != s.epoch {
		return 0, nil, false
	}
	next, ok := Next(s.state, t)
	if !ok {
		s.logger.Debug("voice trigger ignored", "state", s.state, "trigger", t)
		return 0, nil, false
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	s.epoch++

	change := StateChange{From: s.state, To: next, Trigger: t, At: time.Now()}
	s.state = next
	s.notifyLocked(change)

	if next == Error {
		return s.advanceLocked(s.epoch, Recovered)
	}
	return s.epoch, ctx, true
}

func (s *Session) advance(epoch uint64, t Trigger) (uint64, context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(epoch, t)
}

func (s *Session) notifyLocked(c StateChange) {
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
			s.logger.Debug("voice subscriber full, dropping state change", "to", c.To)
		}
	}
}

func (s *Session) capture(ctx context.Context, epoch uint64) {
	defer s.wg.Done()

	events, err := s.cfg.Recognizer.Start(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("speech recognition failed to start", "error", err)
		s.advance(epoch, RecognitionError)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.advance(epoch, CaptureEnded)
				return
			}
			switch ev.Kind {
			case EventFinal:
				text := strings.TrimSpace(ev.Text)
				if text == "" {
					s.advance(epoch, CaptureEnded)
					return
				}
				next, pctx, ok := s.advance(epoch, SpeechFinal)
				if !ok {
					return
				}
				s.process(pctx, next, text)
				return
			case EventError:
				s.logger.Warn("speech recognition error", "error", ev.Err)
				s.advance(epoch, RecognitionError)
				return
			case EventEnd:
				s.advance(epoch, CaptureEnded)
				return
			}
		}
	}
}

func (s *Session) process(ctx context.Context, epoch uint64, transcript string) {
	var spoke sync.Once
	interim := func(text string) {
		spoke.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed || s.epoch != epoch {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				a, err := s.cfg.Synthesizer.Synthesize(ctx, text, s.defaultVoice())
				if err != nil {
					return
				}
				_ = s.cfg.Player.Play(ctx, a)
			}()
		})
	}

	reply, err := s.cfg.Turn(ctx, transcript, interim)
	if err != nil || strings.TrimSpace(reply.Text) == "" {
		if ctx.Err() == nil {
			s.logger.Warn("voice turn failed", "error", err)
		}
		s.advance(epoch, Failure)
		return
	}

	next, rctx, ok := s.advance(epoch, ReplyReady)
	if !ok {
		return
	}
	s.play(rctx, next, reply)
}

func (s *Session) play(ctx context.Context, epoch uint64, r Reply) {
	voice := r.Voice
	if voice == "" {
		voice = s.defaultVoice()
	}
	a, err := s.cfg.Synthesizer.Synthesize(ctx, r.Text, voice)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("speech synthesis failed", "error", err)
		s.advance(epoch, Failure)
		return
	}
	if err := s.cfg.Player.Play(ctx, a); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("playback failed", "error", err)
		s.advance(epoch, Failure)
		return
	}
	s.advance(epoch, PlaybackEnded)
}

func (s *Session) defaultVoice() string {
	if s.cfg.Voice == nil {
		return ""
	}
	return s.cfg.Voice()
}
