package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/refill-sh/refill/internal/config"
	"github.com/refill-sh/refill/internal/errors"
	"github.com/refill-sh/refill/internal/recording"
	"github.com/refill-sh/refill/internal/session"
	"github.com/refill-sh/refill/internal/store"
)

// Engine routes inbound events and queries to the recording registry and the
// session store, and emits outbound commands back to the page context. It
// owns no state beyond its collaborators. Outbound delivery is best-effort:
// the store/registry mutation is the source of truth and a failed
// notification never rolls it back.
type Engine struct {
	store  *store.Store
	states *recording.Registry
	cfg    *config.Config
	peers  CommandSender
	log    *logrus.Logger

	// one event at a time per browsing context
	mu    sync.Mutex
	locks map[string]*ctxLock
}

type ctxLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an Engine. peers may be nil in read-only setups (the CLI);
// outbound commands are then dropped as unreachable.
func New(s *store.Store, states *recording.Registry, cfg *config.Config, peers CommandSender, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		store:  s,
		states: states,
		cfg:    cfg,
		peers:  peers,
		log:    log,
		locks:  make(map[string]*ctxLock),
	}
}

// lockContext serializes event processing for one browsing context.
func (e *Engine) lockContext(contextID string) func() {
	e.mu.Lock()
	l, ok := e.locks[contextID]
	if !ok {
		l = &ctxLock{}
		e.locks[contextID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, contextID)
		}
		e.mu.Unlock()
	}
}

// send delivers an outbound command best-effort. Failures are logged and
// swallowed; the caller's state change already committed.
func (e *Engine) send(ctx context.Context, contextID string, cmd Command) {
	if e.peers == nil {
		return
	}
	if err := e.peers.Send(ctx, contextID, cmd); err != nil {
		e.log.WithFields(logrus.Fields{
			"context": contextID,
			"command": cmd.Type(),
		}).Warn("outbound command not delivered: ", err)
	}
}

// protectedSessions snapshots the sessions live recordings still write to,
// for the retention pass to skip.
func (e *Engine) protectedSessions() map[store.SessionRef]bool {
	refs := e.states.ActiveSessions()
	if len(refs) == 0 {
		return nil
	}
	protected := make(map[store.SessionRef]bool, len(refs))
	for _, ref := range refs {
		protected[store.SessionRef{PageKey: ref.PageKey, ID: ref.SessionID}] = true
	}
	return protected
}

// FieldChangedResult reports what happened to one field-change event.
type FieldChangedResult struct {
	Saved            bool  `json:"saved"`
	SessionID        int64 `json:"session_id,omitempty"`
	FieldChangeCount int   `json:"field_change_count,omitempty"`
}

// HandleFieldChanged records a field edit. During an active capture the
// field is merged into the bound session; a vanished session drops the event
// and reports it unsaved without touching recording state. Outside a capture
// the prompt counter advances and may emit show_prompt exactly once at the
// threshold crossing.
func (e *Engine) HandleFieldChanged(ctx context.Context, contextID, pageURL string, field session.FieldRecord) *FieldChangedResult {
	unlock := e.lockContext(contextID)
	defer unlock()

	if ref, ok := e.states.ActiveSession(contextID); ok {
		pageKey := session.PageKey(pageURL)
		if err := e.store.UpsertField(ctx, pageKey, ref.SessionID, field); err != nil {
			e.log.WithFields(logrus.Fields{
				"context": contextID,
				"session": ref.SessionID,
			}).Error("field not saved: ", err)
			return &FieldChangedResult{Saved: false}
		}
		return &FieldChangedResult{Saved: true, SessionID: ref.SessionID}
	}

	count, crossed := e.states.FieldChanged(contextID, e.cfg.PromptThreshold)
	if crossed && e.cfg.AutoPromptEnabled() {
		e.send(ctx, contextID, ShowPrompt{FieldChangeCount: count})
	}
	return &FieldChangedResult{Saved: false, FieldChangeCount: count}
}

// PromptResponseResult reports the outcome of a prompt answer.
type PromptResponseResult struct {
	SessionID int64 `json:"session_id,omitempty"`
}

// HandlePromptResponse starts a capture when the prompt was accepted, or
// marks the context declined until the next panel-close reset.
func (e *Engine) HandlePromptResponse(ctx context.Context, contextID, pageURL string, accepted bool) (*PromptResponseResult, error) {
	unlock := e.lockContext(contextID)
	defer unlock()

	if !accepted {
		e.states.Decline(contextID)
		return &PromptResponseResult{}, nil
	}

	sess, err := e.store.CreateSession(ctx, pageURL, session.Metadata{}, e.protectedSessions())
	if err != nil {
		return nil, err
	}
	e.states.StartRecording(contextID, sess.PageKey, sess.CreatedAt)
	e.send(ctx, contextID, StartCapture{SessionID: sess.CreatedAt})

	return &PromptResponseResult{SessionID: sess.CreatedAt}, nil
}

// ToggleResult reports the recording state after an explicit toggle.
type ToggleResult struct {
	IsRecording bool  `json:"is_recording"`
	SessionID   int64 `json:"session_id,omitempty"`
}

// ToggleRecording is the user-initiated override: start always creates a
// fresh session for the current page regardless of prior state; stop clears
// the binding and leaves declined/counter state alone.
func (e *Engine) ToggleRecording(ctx context.Context, contextID string, start bool, pageURL, pageTitle string) (*ToggleResult, error) {
	unlock := e.lockContext(contextID)
	defer unlock()

	if !start {
		if e.states.StopRecording(contextID) {
			e.send(ctx, contextID, StopCapture{Reason: StopUserAction})
		}
		return &ToggleResult{IsRecording: false}, nil
	}

	sess, err := e.store.CreateSession(ctx, pageURL, session.Metadata{PageTitle: pageTitle}, e.protectedSessions())
	if err != nil {
		return nil, err
	}
	e.states.StartRecording(contextID, sess.PageKey, sess.CreatedAt)
	e.send(ctx, contextID, StartCapture{SessionID: sess.CreatedAt})

	return &ToggleResult{IsRecording: true, SessionID: sess.CreatedAt}, nil
}

// PanelResult acknowledges a history-panel state change.
type PanelResult struct {
	Acknowledged    bool `json:"acknowledged"`
	RecordingPaused bool `json:"recording_paused"`
}

// NotifyPanelState suspends recording while the history panel is open and
// grants a fresh prompt budget when it closes.
func (e *Engine) NotifyPanelState(ctx context.Context, contextID string, isOpen bool) *PanelResult {
	unlock := e.lockContext(contextID)
	defer unlock()

	if isOpen {
		paused := e.states.PanelOpened(contextID)
		if paused {
			e.send(ctx, contextID, StopCapture{Reason: StopHistoryPanelOpened})
		}
		return &PanelResult{Acknowledged: true, RecordingPaused: paused}
	}

	e.states.PanelClosed(contextID)
	return &PanelResult{Acknowledged: true, RecordingPaused: false}
}

// StateResult is the queryable view of a context's recording state.
type StateResult struct {
	IsRecording      bool  `json:"is_recording"`
	ActiveSessionID  int64 `json:"active_session_id,omitempty"`
	FieldChangeCount int   `json:"field_change_count"`
}

// GetRecordingState reports a context's volatile state; an unknown context
// reads as the zero state.
func (e *Engine) GetRecordingState(contextID string) *StateResult {
	s := e.states.Snapshot(contextID)
	return &StateResult{
		IsRecording:      s.IsRecording,
		ActiveSessionID:  s.ActiveSessionID,
		FieldChangeCount: s.FieldChangeCount,
	}
}

// Pagination contains paging metadata for record listings.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// RecordsResult groups session summaries by page key, then by stringified
// session id.
type RecordsResult struct {
	Records    map[string]map[string]session.Summary `json:"records"`
	Pagination Pagination                            `json:"pagination"`
}

// GetRecords lists stored sessions, newest first, optionally filtered to the
// page key of url, paged by limit/offset.
func (e *Engine) GetRecords(ctx context.Context, url string, limit, offset int) (*RecordsResult, error) {
	pageKey := ""
	if url != "" {
		pageKey = session.PageKey(url)
	}

	summaries, total, err := e.store.ListSessions(ctx, pageKey, limit, offset)
	if err != nil {
		return nil, err
	}

	records := map[string]map[string]session.Summary{}
	for _, s := range summaries {
		byID, ok := records[s.PageKey]
		if !ok {
			byID = map[string]session.Summary{}
			records[s.PageKey] = byID
		}
		byID[strconv.FormatInt(s.CreatedAt, 10)] = s
	}

	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	if limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	offset = max(offset, 0)

	return &RecordsResult{
		Records: records,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(summaries) < total,
			Total:   total,
		},
	}, nil
}

// GetSessionDetail returns a full session, or nil if it does not exist.
func (e *Engine) GetSessionDetail(ctx context.Context, pageKey string, sessionID int64) (*session.CaptureSession, error) {
	sess, err := e.store.GetSession(ctx, pageKey, sessionID)
	if errors.Is(err, errors.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteResult reports a deletion.
type DeleteResult struct {
	Deleted      bool `json:"deleted"`
	DeletedCount int  `json:"deleted_count"`
}

// DeleteRecord removes one session, or every session for the page key when
// sessionID is nil.
func (e *Engine) DeleteRecord(ctx context.Context, pageKey string, sessionID *int64) (*DeleteResult, error) {
	if sessionID != nil {
		deleted, err := e.store.DeleteSession(ctx, pageKey, *sessionID)
		if err != nil {
			return nil, err
		}
		count := 0
		if deleted {
			count = 1
		}
		return &DeleteResult{Deleted: deleted, DeletedCount: count}, nil
	}

	count, err := e.store.DeletePage(ctx, pageKey)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{Deleted: count > 0, DeletedCount: count}, nil
}

// ContextClosed discards a closed browsing context's volatile state.
func (e *Engine) ContextClosed(contextID string) {
	unlock := e.lockContext(contextID)
	defer unlock()

	e.states.Remove(contextID)
}

// ApplyResult reports a replay pass-through.
type ApplyResult struct {
	Applied      bool `json:"applied"`
	ElementFound bool `json:"element_found"`
}

// ApplyFieldValue forwards a replay command to the page context and relays
// its answer. Unlike notifications this is a real request: an unreachable
// peer fails the call.
func (e *Engine) ApplyFieldValue(ctx context.Context, contextID string, identifier session.FieldIdentifier, value string) (*ApplyResult, error) {
	if e.peers == nil {
		return nil, errors.NewPeerUnreachable(contextID)
	}
	raw, err := e.peers.Call(ctx, contextID, ApplyFieldValue{Identifier: identifier, Value: value})
	if err != nil {
		return nil, err
	}
	result := &ApplyResult{}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, errors.NewInternal(err)
	}
	return result, nil
}

// ScrollResult reports a scroll pass-through.
type ScrollResult struct {
	Scrolled     bool `json:"scrolled"`
	ElementFound bool `json:"element_found"`
}

// ScrollToField forwards a scroll command to the page context.
func (e *Engine) ScrollToField(ctx context.Context, contextID string, identifier session.FieldIdentifier) (*ScrollResult, error) {
	if e.peers == nil {
		return nil, errors.NewPeerUnreachable(contextID)
	}
	raw, err := e.peers.Call(ctx, contextID, ScrollToField{Identifier: identifier})
	if err != nil {
		return nil, err
	}
	result := &ScrollResult{}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, errors.NewInternal(err)
	}
	return result, nil
}
