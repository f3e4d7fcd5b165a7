package persona

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
)

// Settings keys persisted by the Manager.
const (
	KeyTier  = "persona.tier"
	KeyVoice = "persona.voice"
	KeyScore = "persona.score"
)

// ErrClosed is returned by commands sent after Close.
var ErrClosed = errors.New("persona manager closed")

// State is the active persona.
type State struct {
	Tier          Tier           `json:"tier"`
	Traits        map[string]int `json:"traits"`
	VoiceIdentity string         `json:"voice_identity"`
	Unlocked      bool           `json:"unlocked"`
	Score         float64        `json:"score"`
}

// StateFor is the default persona for tier t.
func StateFor(t Tier, score float64) State {
	return State{
		Tier:          t,
		Traits:        t.Traits(),
		VoiceIdentity: t.Voice(),
		Unlocked:      t > Novice,
		Score:         score,
	}
}

// Transition describes one tier change, announced exactly once.
type Transition struct {
	From   Tier   `json:"from"`
	To     Tier   `json:"to"`
	Text   string `json:"text"`
	Source string `json:"source"`
	State  State  `json:"state"`
}

// Settings is the key/value persistence the Manager needs.
// Implemented by storage.Store.
type Settings interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

type command struct {
	score  float64
	source string
	reply  chan State
}

// Manager owns the PersonaState on a single goroutine. Score recomputes and
// integration events are both delivered as commands, so only one of them
// can observe and announce a given transition.
type Manager struct {
	store    Settings
	announce func(Transition)
	logger   *slog.Logger

	cmds    chan command
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	current atomic.Pointer[State]
}

// NewManager restores the persisted tier and voice and starts the owning
// goroutine. announce is called from that goroutine and must not block.
func NewManager(store Settings, announce func(Transition)) *Manager {
	m := &Manager{
		store:    store,
		announce: announce,
		logger:   slog.Default(),
		cmds:     make(chan command),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	initial := m.restore()
	m.current.Store(&initial)
	go m.loop(initial)
	return m
}

func (m *Manager) restore() State {
	var score float64
	if v, err := m.store.GetSetting(KeyScore); err == nil {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			score = Clamp(f)
		}
	}

	tier := Derive(score)
	if v, err := m.store.GetSetting(KeyTier); err == nil {
		if t, err := ParseTier(v); err == nil {
			tier = t
		} else {
			m.logger.Warn("ignoring persisted persona tier", "value", v, "error", err)
		}
	}

	st := StateFor(tier, score)
	if v, err := m.store.GetSetting(KeyVoice); err == nil && v != "" {
		st.VoiceIdentity = v
	}
	return st
}

func (m *Manager) loop(st State) {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case cmd := <-m.cmds:
			st = m.apply(st, cmd)
			snapshot := copyState(st)
			m.current.Store(&snapshot)
			cmd.reply <- copyState(st)
		}
	}
}

func (m *Manager) apply(st State, cmd command) State {
	score := Clamp(cmd.score)
	next := Derive(score)

	if next == st.Tier {
		if score != st.Score {
			st.Score = score
			m.persist(KeyScore, strconv.FormatFloat(score, 'f', -1, 64))
		}
		return st
	}

	from := st.Tier
	st = StateFor(next, score)
	m.persist(KeyTier, next.String())
	m.persist(KeyVoice, st.VoiceIdentity)
	m.persist(KeyScore, strconv.FormatFloat(score, 'f', -1, 64))

	m.logger.Info("persona tier changed", "from", from, "to", next, "score", score, "source", cmd.source)
	if m.announce != nil {
		m.announce(Transition{From: from, To: next, Text: next.Announcement(), Source: cmd.source, State: copyState(st)})
	}
	return st
}

func (m *Manager) persist(key, value string) {
	if err := m.store.SetSetting(key, value); err != nil {
		m.logger.Warn("failed to persist persona setting", "key", key, "error", err)
	}
}

func (m *Manager) send(ctx context.Context, score float64, source string) (State, error) {
	cmd := command{score: score, source: source, reply: make(chan State, 1)}
	select {
	case m.cmds <- cmd:
	case <-m.done:
		return m.Current(), ErrClosed
	case <-ctx.Done():
		return m.Current(), ctx.Err()
	}
	// Once accepted the command always completes, so wait for the reply.
	return <-cmd.reply, nil
}

// SyncTier re-derives the tier from a recomputed proficiency score.
func (m *Manager) SyncTier(ctx context.Context, score float64) (State, error) {
	return m.send(ctx, score, "score")
}

// IntegrationConnected applies the score that results from a newly
// connected integration.
func (m *Manager) IntegrationConnected(ctx context.Context, integration string, score float64) (State, error) {
	return m.send(ctx, score, "integration:"+integration)
}

// Current returns the latest published state without waiting on the owner.
func (m *Manager) Current() State {
	return copyState(*m.current.Load())
}

// Close stops the owning goroutine and waits for it to exit.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.done) })
	<-m.stopped
}

func copyState(s State) State {
	cp := s
	if s.Traits != nil {
		cp.Traits = make(map[string]int, len(s.Traits))
		for k, v := range s.Traits {
			cp.Traits[k] = v
		}
	}
	return cp
}
