package persona

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
	sets   int
}

func newMemSettings() *memSettings {
	return &memSettings{values: map[string]string{}}
}

func (s *memSettings) GetSetting(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (s *memSettings) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value
	return nil
}

type recorder struct {
	mu   sync.Mutex
	seen []Transition
}

func (r *recorder) announce(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, t)
}

func (r *recorder) transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.seen...)
}

func TestDerive(t *testing.T) {
	cases := []struct {
		score float64
		want  Tier
	}{
		{0, Novice},
		{33, Novice},
		{33.99, Novice},
		{34, Analytical},
		{66.9, Analytical},
		{67, Proactive},
		{99.9, Proactive},
		{100, Optimized},
		{150, Optimized},
		{-5, Novice},
		{math.NaN(), Novice},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Derive(tc.score), "Derive(%v)", tc.score)
	}
}

// Raising the score must never lower the tier.
func TestDerive_Monotonic(t *testing.T) {
	prev := Derive(0)
	for s := 0.0; s <= 100; s += 0.5 {
		cur := Derive(s)
		require.GreaterOrEqual(t, int(cur), int(prev), "score %v", s)
		prev = cur
	}
}

func TestTierNamesRoundTrip(t *testing.T) {
	for _, tier := range []Tier{Novice, Analytical, Proactive, Optimized} {
		parsed, err := ParseTier(tier.String())
		require.NoError(t, err)
		assert.Equal(t, tier, parsed)
	}
	assert.Equal(t, "fully_optimized", Optimized.String())
	_, err := ParseTier("legendary")
	assert.Error(t, err)
}

func TestManager_AscendingScoresAnnounceEachTierOnce(t *testing.T) {
	rec := &recorder{}
	store := newMemSettings()
	m := NewManager(store, rec.announce)
	defer m.Close()

	ctx := context.Background()
	for _, score := range []float64{20, 40, 70, 100} {
		_, err := m.SyncTier(ctx, score)
		require.NoError(t, err)
	}

	got := rec.transitions()
	require.Len(t, got, 3)
	assert.Equal(t, []Tier{Analytical, Proactive, Optimized}, []Tier{got[0].To, got[1].To, got[2].To})
	assert.Equal(t, Novice, got[0].From)
	assert.Equal(t, Optimized.Announcement(), got[2].Text)

	st := m.Current()
	assert.Equal(t, Optimized, st.Tier)
	assert.True(t, st.Unlocked)
	assert.Equal(t, "fully_optimized", store.values[KeyTier])
	assert.Equal(t, Optimized.Voice(), store.values[KeyVoice])
}

func TestManager_SameTierNoAnnouncement(t *testing.T) {
	rec := &recorder{}
	m := NewManager(newMemSettings(), rec.announce)
	defer m.Close()

	for _, s := range []float64{40, 45, 50, 60} {
		st, err := m.SyncTier(context.Background(), s)
		require.NoError(t, err)
		assert.Equal(t, s, st.Score)
	}
	assert.Len(t, rec.transitions(), 1)
}

// Both signals racing to report the same crossing yield one announcement.
func TestManager_ConcurrentSignalsDoNotDoubleAnnounce(t *testing.T) {
	rec := &recorder{}
	m := NewManager(newMemSettings(), rec.announce)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.SyncTier(context.Background(), 70)
		}()
		go func() {
			defer wg.Done()
			m.IntegrationConnected(context.Background(), "wearable", 70)
		}()
	}
	wg.Wait()

	got := rec.transitions()
	require.Len(t, got, 1)
	assert.Equal(t, Proactive, got[0].To)
}

func TestManager_DowngradeApplied(t *testing.T) {
	rec := &recorder{}
	m := NewManager(newMemSettings(), rec.announce)
	defer m.Close()

	m.SyncTier(context.Background(), 80)
	st, err := m.SyncTier(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Novice, st.Tier)
	assert.False(t, st.Unlocked)
	assert.Len(t, rec.transitions(), 2)
}

func TestManager_RestoresPersistedState(t *testing.T) {
	store := newMemSettings()
	store.values[KeyTier] = "proactive"
	store.values[KeyVoice] = "custom-voice"
	store.values[KeyScore] = "72"

	rec := &recorder{}
	m := NewManager(store, rec.announce)
	defer m.Close()

	st := m.Current()
	assert.Equal(t, Proactive, st.Tier)
	assert.Equal(t, "custom-voice", st.VoiceIdentity)
	assert.Equal(t, 72.0, st.Score)

	// Re-deriving the same tier on startup must not announce.
	_, err := m.SyncTier(context.Background(), 72)
	require.NoError(t, err)
	assert.Empty(t, rec.transitions())
}

func TestManager_PersistFailureStillChangesTier(t *testing.T) {
	store := newMemSettings()
	store.setErr = errors.New("disk full")
	rec := &recorder{}
	m := NewManager(store, rec.announce)
	defer m.Close()

	st, err := m.SyncTier(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, Analytical, st.Tier)
	assert.Len(t, rec.transitions(), 1)
}

func TestManager_Closed(t *testing.T) {
	m := NewManager(newMemSettings(), nil)
	m.Close()
	m.Close()

	_, err := m.SyncTier(context.Background(), 50)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_ContextCancelled(t *testing.T) {
	m := NewManager(newMemSettings(), func(Transition) { time.Sleep(50 * time.Millisecond) })
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.SyncTier(ctx, 50)
	// The loop may win the select; either outcome is valid, but a cancelled
	// context must never hang.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestCurrent_ReturnsCopy(t *testing.T) {
	m := NewManager(newMemSettings(), nil)
	defer m.Close()

	st := m.Current()
	st.Traits["warmth"] = 0
	assert.NotEqual(t, 0, m.Current().Traits["warmth"])
}
