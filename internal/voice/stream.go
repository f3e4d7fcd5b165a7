package voice

import (
	"context"
	"errors"
	"sync"
)

// Control commands sent to a remote client driving the microphone or
// speaker.
const (
	CmdStartCapture = "start_capture"
	CmdStopCapture  = "stop_capture"
	CmdStopPlayback = "stop_playback"
)

// StreamRecognizer is a Recognizer fed by a remote client, such as a
// browser running its own speech engine. Control is told when capture
// starts and stops; the client's transcripts come back through Push.
// Control runs with the recognizer locked, so commands reach the client in
// order; it must not call back into the recognizer.
type StreamRecognizer struct {
	Control func(cmd string)

	mu  sync.Mutex
	cur chan RecognitionEvent
}

var _ Recognizer = (*StreamRecognizer)(nil)

func (r *StreamRecognizer) Start(ctx context.Context) (<-chan RecognitionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan RecognitionEvent, 16)

	r.mu.Lock()
	if r.cur != nil {
		close(r.cur)
	}
	r.cur = ch
	r.control(CmdStartCapture)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		// A newer capture owns the client's microphone now.
		if r.cur != ch {
			return
		}
		r.cur = nil
		close(ch)
		r.control(CmdStopCapture)
	}()
	return ch, nil
}

// Push delivers a client event to the active capture. It reports false when
// no capture is active or the buffer is full.
func (r *StreamRecognizer) Push(ev RecognitionEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return false
	}
	select {
	case r.cur <- ev:
		return true
	default:
		return false
	}
}

func (r *StreamRecognizer) control(cmd string) {
	if r.Control != nil {
		r.Control(cmd)
	}
}

// PlayCommand asks the client to play one utterance.
type PlayCommand struct {
	ID    uint64 `json:"id"`
	Audio Audio  `json:"audio"`
}

// ErrPlaybackFailed is returned when the client reports playback failure.
var ErrPlaybackFailed = errors.New("client playback failed")

// StreamPlayer is a Player rendered by a remote client. Send delivers the
// play command, and the client reports back through Ended or Failed.
type StreamPlayer struct {
	Send    func(ctx context.Context, cmd PlayCommand) error
	Control func(cmd string, id uint64)

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan error
}

var _ Player = (*StreamPlayer)(nil)

func (p *StreamPlayer) Play(ctx context.Context, a Audio) error {
	done := make(chan error, 1)

	p.mu.Lock()
	if p.pending == nil {
		p.pending = make(map[uint64]chan error)
	}
	p.nextID++
	id := p.nextID
	p.pending[id] = done
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.Send(ctx, PlayCommand{ID: id, Audio: a}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if p.Control != nil {
			p.Control(CmdStopPlayback, id)
		}
		return ctx.Err()
	}
}

// Ended reports that playback id finished. Unknown ids are ignored.
func (p *StreamPlayer) Ended(id uint64) { p.settle(id, nil) }

// Failed reports that playback id could not be rendered.
func (p *StreamPlayer) Failed(id uint64) { p.settle(id, ErrPlaybackFailed) }

func (p *StreamPlayer) settle(id uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.pending[id]; ok {
		delete(p.pending, id)
		ch <- err
	}
}
