package recording

import "testing"

const ctxID = "tab-1"

func TestFieldChanged_CountsAndCrossesOnce(t *testing.T) {
	r := NewRegistry()

	for i := 1; i <= 4; i++ {
		count, crossed := r.FieldChanged(ctxID, 5)
		if count != i {
			t.Errorf("count = %d, want %d", count, i)
		}
		if crossed {
			t.Errorf("crossed at %d, want only at 5", i)
		}
	}

	count, crossed := r.FieldChanged(ctxID, 5)
	if count != 5 || !crossed {
		t.Errorf("fifth change: count=%d crossed=%v, want 5/true", count, crossed)
	}

	// Counter keeps advancing but the crossing fires exactly once
	count, crossed = r.FieldChanged(ctxID, 5)
	if count != 6 || crossed {
		t.Errorf("sixth change: count=%d crossed=%v, want 6/false", count, crossed)
	}
}

func TestFieldChanged_FrozenStates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *Registry)
	}{
		{"while recording", func(r *Registry) { r.StartRecording(ctxID, "https://a.test/x", 100) }},
		{"after decline", func(r *Registry) { r.Decline(ctxID) }},
		{"panel open", func(r *Registry) { r.PanelOpened(ctxID) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			tt.setup(r)

			count, crossed := r.FieldChanged(ctxID, 1)
			if crossed {
				t.Error("frozen state must never cross the threshold")
			}
			if want := r.Snapshot(ctxID).FieldChangeCount; count != want {
				t.Errorf("count = %d, want unchanged %d", count, want)
			}
		})
	}
}

func TestStartRecording_OverridesAnyState(t *testing.T) {
	r := NewRegistry()
	r.FieldChanged(ctxID, 5)
	r.Decline(ctxID)
	r.PanelOpened(ctxID)

	r.StartRecording(ctxID, "https://a.test/form", 42)

	s := r.Snapshot(ctxID)
	if !s.IsRecording || s.ActiveSessionID != 42 {
		t.Errorf("state = %+v, want recording into 42", s)
	}
	if s.DeclinedPrompt || s.PanelOpen {
		t.Error("explicit start must clear declined and panel suspension")
	}
	if s.FieldChangeCount != 0 {
		t.Errorf("FieldChangeCount = %d, want reset", s.FieldChangeCount)
	}
}

func TestStopRecording_KeepsDeclinedAndCounter(t *testing.T) {
	r := NewRegistry()
	r.FieldChanged(ctxID, 5)
	r.FieldChanged(ctxID, 5)
	r.StartRecording(ctxID, "https://a.test/form", 42)

	// Start reset the counter; advance declined afterwards via a fresh stop
	if was := r.StopRecording(ctxID); !was {
		t.Error("StopRecording should report it was running")
	}
	r.FieldChanged(ctxID, 5)
	r.Decline(ctxID)
	r.StopRecording(ctxID)

	s := r.Snapshot(ctxID)
	if s.IsRecording || s.ActiveSessionID != 0 {
		t.Errorf("state = %+v, want stopped", s)
	}
	if !s.DeclinedPrompt || s.FieldChangeCount != 1 {
		t.Errorf("stop must leave declined/counter alone: %+v", s)
	}
}

func TestPanelLifecycle(t *testing.T) {
	r := NewRegistry()
	r.StartRecording(ctxID, "https://a.test/form", 42)

	if was := r.PanelOpened(ctxID); !was {
		t.Error("opening the panel over a recording should report a pause")
	}
	s := r.Snapshot(ctxID)
	if s.IsRecording || !s.PanelOpen {
		t.Errorf("state = %+v, want suspended with panel open", s)
	}

	// Opening with nothing running reports no pause
	if was := r.PanelOpened("tab-2"); was {
		t.Error("no recording to pause on tab-2")
	}

	r.Decline(ctxID)
	r.PanelClosed(ctxID)
	s = r.Snapshot(ctxID)
	if s.PanelOpen || s.DeclinedPrompt || s.FieldChangeCount != 0 {
		t.Errorf("panel close must grant a fresh prompt budget: %+v", s)
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	r.StartRecording(ctxID, "https://a.test/form", 42)
	r.Remove(ctxID)

	s := r.Snapshot(ctxID)
	if s.IsRecording || s.ActiveSessionID != 0 {
		t.Errorf("removed context should be back at the zero state: %+v", s)
	}
	if len(r.ActiveSessions()) != 0 {
		t.Error("removed context must not protect any session")
	}
}

func TestActiveSessions(t *testing.T) {
	r := NewRegistry()
	r.StartRecording("tab-1", "https://a.test/form", 10)
	r.StartRecording("tab-2", "https://a.test/form", 20)
	r.StartRecording("tab-3", "https://b.test/login", 30)
	r.StopRecording("tab-2")

	refs := r.ActiveSessions()
	if len(refs) != 2 {
		t.Fatalf("active = %d, want 2", len(refs))
	}
	seen := map[int64]bool{}
	for _, ref := range refs {
		seen[ref.SessionID] = true
	}
	if !seen[10] || !seen[30] || seen[20] {
		t.Errorf("active refs = %+v", refs)
	}
}
