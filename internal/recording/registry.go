package recording

import "sync"

// State is the volatile recording state for one browsing context. It lives
// only for the engine process's lifetime; an engine restart starts every
// context over at the zero state.
type State struct {
	IsRecording bool `json:"is_recording"`

	// ActiveSessionID is the session a live recording writes to (0 = none)
	ActiveSessionID int64 `json:"active_session_id,omitempty"`

	// ActivePageKey is the page key ActiveSessionID belongs to
	ActivePageKey string `json:"active_page_key,omitempty"`

	// DeclinedPrompt blocks further auto-prompting until the panel closes
	DeclinedPrompt bool `json:"declined_prompt,omitempty"`

	// FieldChangeCount counts field edits seen while not recording
	FieldChangeCount int `json:"field_change_count"`

	// PanelOpen force-suspends recording while the history panel shows
	PanelOpen bool `json:"panel_open,omitempty"`
}

// ActiveRef names the session a context is currently recording into.
type ActiveRef struct {
	PageKey   string
	SessionID int64
}

// Registry owns the per-context states. All transitions go through it; the
// page context never mutates recording state directly.
type Registry struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*State)}
}

// state returns the context's state, creating it lazily on first touch.
// Caller must hold r.mu.
func (r *Registry) state(contextID string) *State {
	s, ok := r.states[contextID]
	if !ok {
		s = &State{}
		r.states[contextID] = s
	}
	return s
}

// FieldChanged advances the prompt counter for a field edit seen while not
// recording. While recording, declined, or with the panel open the counter
// is frozen and the call is a no-op. crossed is true only on the increment
// that lands exactly on threshold; later increments do not re-cross.
func (r *Registry) FieldChanged(contextID string, threshold int) (count int, crossed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state(contextID)
	if s.IsRecording || s.DeclinedPrompt || s.PanelOpen {
		return s.FieldChangeCount, false
	}

	s.FieldChangeCount++
	return s.FieldChangeCount, s.FieldChangeCount == threshold
}

// ActiveSession returns the session the context is recording into, if any.
func (r *Registry) ActiveSession(contextID string) (ActiveRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[contextID]
	if !ok || !s.IsRecording {
		return ActiveRef{}, false
	}
	return ActiveRef{PageKey: s.ActivePageKey, SessionID: s.ActiveSessionID}, true
}

// StartRecording binds the context to a session. Allowed from any state:
// an explicit start overrides declined and panel suspension, clears the
// prompt budget, and re-targets an already-running recording.
func (r *Registry) StartRecording(contextID, pageKey string, sessionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state(contextID)
	s.IsRecording = true
	s.ActiveSessionID = sessionID
	s.ActivePageKey = pageKey
	s.DeclinedPrompt = false
	s.FieldChangeCount = 0
	s.PanelOpen = false
}

// StopRecording ends a recording, leaving declined/counter state untouched.
// Returns whether a recording was actually running.
func (r *Registry) StopRecording(contextID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state(contextID)
	was := s.IsRecording
	s.IsRecording = false
	s.ActiveSessionID = 0
	s.ActivePageKey = ""
	return was
}

// Decline records that the user dismissed the prompt; field changes no
// longer advance the counter until the panel-close reset.
func (r *Registry) Decline(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state(contextID).DeclinedPrompt = true
}

// PanelOpened suspends the context while the history panel shows. A running
// recording is force-stopped; the return value lets the caller report
// "recording was paused".
func (r *Registry) PanelOpened(contextID string) (wasRecording bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state(contextID)
	wasRecording = s.IsRecording
	s.PanelOpen = true
	s.IsRecording = false
	s.ActiveSessionID = 0
	s.ActivePageKey = ""
	return wasRecording
}

// PanelClosed lifts the panel suspension and grants the page a fresh
// prompting budget: declined and the counter always reset here.
func (r *Registry) PanelClosed(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state(contextID)
	s.PanelOpen = false
	s.DeclinedPrompt = false
	s.FieldChangeCount = 0
}

// Snapshot returns a copy of the context's state (zero state if untouched).
func (r *Registry) Snapshot(contextID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[contextID]; ok {
		return *s
	}
	return State{}
}

// Remove discards a closed context's state. Durable data is untouched.
func (r *Registry) Remove(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, contextID)
}

// ActiveSessions returns every session some context is recording into.
// The retention pass treats these as protected.
func (r *Registry) ActiveSessions() []ActiveRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	refs := []ActiveRef{}
	for _, s := range r.states {
		if s.IsRecording {
			refs = append(refs, ActiveRef{PageKey: s.ActivePageKey, SessionID: s.ActiveSessionID})
		}
	}
	return refs
}
