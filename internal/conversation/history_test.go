package conversation

import (
	"fmt"
	"testing"
)

func TestHistory_BoundedAndOrdered(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(Turn{ID: fmt.Sprint(i), Role: RoleUser, Text: fmt.Sprint(i)})
	}

	got := h.Snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"2", "3", "4"} {
		if got[i].ID != want {
			t.Errorf("turn[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestHistory_AppendPairKeepsOrder(t *testing.T) {
	h := NewHistory(4)
	h.Append(NewTurn(RoleUser, "hi", "greeting"), NewTurn(RoleAssistant, "hello!", "greeting"))
	h.Append(NewTurn(RoleUser, "how are you", "general_chat"), NewTurn(RoleAssistant, "good", "general_chat"))
	h.Append(NewTurn(RoleUser, "bye", "general_chat"), NewTurn(RoleAssistant, "see you", "general_chat"))

	got := h.Snapshot()
	if got[0].Text != "how are you" || got[3].Text != "see you" {
		t.Errorf("unexpected window: %+v", got)
	}
}

func TestHistory_Recent(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 4; i++ {
		h.Append(Turn{ID: fmt.Sprint(i)})
	}
	r := h.Recent(2)
	if len(r) != 2 || r[0].ID != "2" || r[1].ID != "3" {
		t.Errorf("Recent(2) = %+v", r)
	}
	if len(h.Recent(50)) != 4 {
		t.Error("Recent beyond length should return all turns")
	}

	// Mutating the returned slice must not affect the window.
	r[0].ID = "x"
	if h.Recent(2)[0].ID != "2" {
		t.Error("Recent returned an aliased slice")
	}
}

func TestHistory_DefaultSize(t *testing.T) {
	h := NewHistory(0)
	if h.Size() != DefaultSize {
		t.Errorf("Size = %d, want %d", h.Size(), DefaultSize)
	}
}

func TestNewTurn(t *testing.T) {
	a := NewTurn(RoleUser, "x", "")
	b := NewTurn(RoleUser, "x", "")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct non-empty IDs, got %q and %q", a.ID, b.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}
