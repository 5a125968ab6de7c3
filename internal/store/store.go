package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/refill-sh/refill/internal/config"
	"github.com/refill-sh/refill/internal/db"
	"github.com/refill-sh/refill/internal/session"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// createRetries bounds the id-collision retry loop in CreateSession.
const createRetries = 16

// SessionRef names one session: page key plus created_at id.
type SessionRef struct {
	PageKey string
	ID      int64
}

// Store is the durable session store. It owns page-key normalization, session
// creation with per-page unique ids, identity-matched field merging, and the
// retention policy. Read-modify-write sequences on a session are serialized
// per SessionRef so concurrent contexts recording against the same page
// cannot lose updates.
type Store struct {
	db      *sql.DB
	cfg     *config.Config
	matcher session.Matcher

	// nowMillis is swappable in tests
	nowMillis func() int64

	mu    sync.Mutex
	locks map[SessionRef]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Store over an initialized database.
func New(database *sql.DB, cfg *config.Config, matcher session.Matcher) *Store {
	return &Store{
		db:        database,
		cfg:       cfg,
		matcher:   matcher,
		nowMillis: func() int64 { return time.Now().UnixMilli() },
		locks:     make(map[SessionRef]*refLock),
	}
}

// lock acquires the per-session writer lock and returns its release func.
func (s *Store) lock(ref SessionRef) func() {
	s.mu.Lock()
	l, ok := s.locks[ref]
	if !ok {
		l = &refLock{}
		s.locks[ref] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, ref)
		}
		s.mu.Unlock()
	}
}

// CreateSession normalizes url to a page key, allocates the current
// millisecond timestamp as the session id, stores an empty session, and
// synchronously enforces retention for that page key. Ids are unique per
// page: a collision bumps the timestamp and retries. Sessions listed in
// protected are never evicted by the retention pass.
func (s *Store) CreateSession(ctx context.Context, url string, meta session.Metadata, protected map[SessionRef]bool) (*session.CaptureSession, error) {
	pageKey := session.PageKey(url)
	id := s.nowMillis()

	var sess *session.CaptureSession
	var err error
	for i := 0; i < createRetries; i++ {
		sess = &session.CaptureSession{
			PageKey:   pageKey,
			URL:       url,
			CreatedAt: id,
			UpdatedAt: id,
			Fields:    []session.FieldRecord{},
			Metadata:  meta,
		}
		err = db.InsertSession(ctx, s.db, sess)
		if err != db.ErrUniqueConstraint {
			break
		}
		id++
	}
	if err != nil {
		return nil, err
	}

	// The new session joins the protected set so the pass it triggers can
	// never evict it.
	keep := make(map[SessionRef]bool, len(protected)+1)
	for ref := range protected {
		keep[ref] = true
	}
	keep[SessionRef{PageKey: pageKey, ID: sess.CreatedAt}] = true

	if _, err := s.EnforceRetention(ctx, pageKey, keep); err != nil {
		return nil, err
	}

	return sess, nil
}

// GetSession returns a session with its fields, or SESSION_NOT_FOUND.
func (s *Store) GetSession(ctx context.Context, pageKey string, sessionID int64) (*session.CaptureSession, error) {
	return db.GetSession(ctx, s.db, pageKey, sessionID)
}

// UpsertField merges a field into a session under the identity matcher,
// stamping recorded_at with the current time. Fails with SESSION_NOT_FOUND
// if the session does not exist.
func (s *Store) UpsertField(ctx context.Context, pageKey string, sessionID int64, f session.FieldRecord) error {
	f.RecordedAt = s.nowMillis()

	unlock := s.lock(SessionRef{PageKey: pageKey, ID: sessionID})
	defer unlock()

	return db.UpsertField(ctx, s.db, s.matcher, pageKey, sessionID, f)
}

// ListSessionsForPage returns a page's session summaries, newest first.
func (s *Store) ListSessionsForPage(ctx context.Context, pageKey string) ([]session.Summary, error) {
	return db.ListSessionsForPage(ctx, s.db, pageKey)
}

// ListSessions returns summaries across all pages (or one page when pageKey
// is non-empty), newest first with limit/offset paging, plus the total count.
func (s *Store) ListSessions(ctx context.Context, pageKey string, limit, offset int) ([]session.Summary, int, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset = max(offset, 0)
	return db.ListSessions(ctx, s.db, pageKey, limit, offset)
}

// ListAllPages returns every page key mapped to its sessions, newest first.
func (s *Store) ListAllPages(ctx context.Context) (map[string][]session.Summary, error) {
	keys, err := db.PageKeys(ctx, s.db)
	if err != nil {
		return nil, err
	}

	pages := make(map[string][]session.Summary, len(keys))
	for _, key := range keys {
		summaries, err := db.ListSessionsForPage(ctx, s.db, key)
		if err != nil {
			return nil, err
		}
		pages[key] = summaries
	}
	return pages, nil
}

// DeleteSession removes one session. Returns true if something was deleted.
// An emptied page key disappears with its last session.
func (s *Store) DeleteSession(ctx context.Context, pageKey string, sessionID int64) (bool, error) {
	unlock := s.lock(SessionRef{PageKey: pageKey, ID: sessionID})
	defer unlock()

	return db.DeleteSession(ctx, s.db, pageKey, sessionID)
}

// DeletePage removes every session for a page key, returning the count.
func (s *Store) DeletePage(ctx context.Context, pageKey string) (int, error) {
	return db.DeletePage(ctx, s.db, pageKey)
}

// EnforceRetention evicts oldest-first until each affected page key holds at
// most MaxRecordsPerURL sessions. A non-empty pageKey restricts the sweep to
// that page; empty sweeps every page. Sessions in protected (the ones a live
// recording still writes to) are skipped, so a page can briefly exceed the
// cap only while enough of its sessions are actively recording.
func (s *Store) EnforceRetention(ctx context.Context, pageKey string, protected map[SessionRef]bool) (int, error) {
	keys := []string{pageKey}
	if pageKey == "" {
		var err error
		keys, err = db.PageKeys(ctx, s.db)
		if err != nil {
			return 0, err
		}
	}

	maxPerURL := s.cfg.MaxRecordsPerURL
	evicted := 0
	for _, key := range keys {
		ids, err := db.SessionIDsOldestFirst(ctx, s.db, key)
		if err != nil {
			return evicted, err
		}

		remaining := len(ids)
		for _, id := range ids {
			if remaining <= maxPerURL {
				break
			}
			if protected[SessionRef{PageKey: key, ID: id}] {
				continue
			}
			deleted, err := db.DeleteSession(ctx, s.db, key, id)
			if err != nil {
				return evicted, err
			}
			if deleted {
				evicted++
				remaining--
			}
		}
	}

	return evicted, nil
}
