package bridge

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/refill-sh/refill/internal/config"
	"github.com/refill-sh/refill/internal/engine"
	"github.com/refill-sh/refill/internal/errors"
	"github.com/refill-sh/refill/internal/session"
)

// EventHandler consumes peer-initiated events. The capture engine implements
// it; the indirection exists because the engine and the bridge are
// constructed in a cycle (the engine sends through the bridge, the bridge
// dispatches into the engine).
type EventHandler interface {
	HandleFieldChanged(ctx context.Context, contextID, pageURL string, field session.FieldRecord) *engine.FieldChangedResult
	HandlePromptResponse(ctx context.Context, contextID, pageURL string, accepted bool) (*engine.PromptResponseResult, error)
	ContextClosed(contextID string)
}

// Server is the page-context bridge: one WebSocket peer per browsing
// context, connected at /ws?context=<id>. Inbound frames are events
// dispatched to the handler; outbound frames are engine commands. It
// implements engine.CommandSender.
type Server struct {
	cfg *config.Config
	log *logrus.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	handler EventHandler
	peers   map[string]*peer
	pending map[string]chan Frame
}

// peer is one connected page context. Writes are serialized; gorilla
// connections allow only one concurrent writer.
type peer struct {
	contextID string
	conn      *websocket.Conn

	writeMu sync.Mutex
}

// NewServer creates a bridge with no handler bound yet; call SetHandler
// before serving.
func NewServer(cfg *config.Config, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			// Page contexts connect from extension origins; the bind address
			// is loopback-only so origin checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers:   make(map[string]*peer),
		pending: make(map[string]chan Frame),
	}
}

// SetHandler binds the event consumer.
func (s *Server) SetHandler(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Routes returns the bridge's HTTP handler: the WebSocket endpoint plus a
// health probe.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","peers":%d}`, s.peerCount())
	})
	return mux
}

// ListenAndServe runs the bridge on the configured bind address until the
// context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.BridgeBind, s.cfg.BridgePort),
		Handler: s.Routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.WithField("addr", srv.Addr).Info("bridge listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) peerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	contextID := r.URL.Query().Get("context")
	if contextID == "" {
		http.Error(w, "missing context query parameter", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: ", err)
		return
	}

	p := &peer{contextID: contextID, conn: conn}

	s.mu.Lock()
	if old, ok := s.peers[contextID]; ok {
		// A reconnect replaces the previous peer for the same context
		old.conn.Close()
	}
	s.peers[contextID] = p
	s.mu.Unlock()

	s.log.WithField("context", contextID).Info("peer connected")
	s.readLoop(r.Context(), p)
}

// readLoop pumps frames off one peer connection until it drops. A dropped
// peer means the browsing context is gone: its volatile recording state is
// discarded.
func (s *Server) readLoop(ctx context.Context, p *peer) {
	defer func() {
		s.mu.Lock()
		handler := s.handler
		// A replaced peer must not tear down the context: a newer connection
		// owns it and its recording state stays live.
		current := s.peers[p.contextID] == p
		if current {
			delete(s.peers, p.contextID)
		}
		s.mu.Unlock()

		p.conn.Close()
		if !current {
			return
		}
		s.log.WithField("context", p.contextID).Info("peer disconnected")
		if handler != nil {
			handler.ContextClosed(p.contextID)
		}
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.writeError(p, "", errors.NewInvalidRequest("malformed frame: "+err.Error()))
			continue
		}
		s.dispatch(ctx, p, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, p *peer, frame Frame) {
	switch frame.Type {
	case frameResult, frameError:
		s.resolveCall(frame)

	case frameFieldChanged:
		var payload fieldChangedPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			s.writeError(p, frame.ID, errors.NewInvalidRequest("bad field_changed payload: "+err.Error()))
			return
		}
		handler := s.boundHandler()
		if handler == nil {
			return
		}
		result := handler.HandleFieldChanged(ctx, p.contextID, payload.URL, payload.Field)
		s.writeResult(p, frame.ID, result)

	case framePromptResponse:
		var payload promptResponsePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			s.writeError(p, frame.ID, errors.NewInvalidRequest("bad prompt_response payload: "+err.Error()))
			return
		}
		handler := s.boundHandler()
		if handler == nil {
			return
		}
		result, err := handler.HandlePromptResponse(ctx, p.contextID, payload.URL, payload.Accepted)
		if err != nil {
			s.writeError(p, frame.ID, err)
			return
		}
		s.writeResult(p, frame.ID, result)

	default:
		s.writeError(p, frame.ID, errors.NewInvalidRequest("unknown frame type "+frame.Type))
	}
}

func (s *Server) boundHandler() EventHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// resolveCall routes a peer reply to the pass-through waiting on its id.
// Replies nobody waits for (late arrivals after a timeout) are dropped.
func (s *Server) resolveCall(frame Frame) {
	s.mu.Lock()
	ch, ok := s.pending[frame.ID]
	if ok {
		delete(s.pending, frame.ID)
	}
	s.mu.Unlock()

	if ok {
		ch <- frame
	}
}

func (s *Server) writeFrame(p *peer, frame Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(frame)
}

func (s *Server) writeResult(p *peer, id string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal result: ", err)
		return
	}
	if err := s.writeFrame(p, Frame{ID: id, Type: frameResult, Payload: raw}); err != nil {
		s.log.WithField("context", p.contextID).Warn("write result: ", err)
	}
}

func (s *Server) writeError(p *peer, id string, err error) {
	payload := errorPayload{Code: string(errors.ErrInternal), Message: err.Error()}
	if eErr, ok := err.(*errors.EngineError); ok {
		payload.Code = string(eErr.Code)
		payload.Message = eErr.Message
	}
	raw, mErr := json.Marshal(payload)
	if mErr != nil {
		return
	}
	if wErr := s.writeFrame(p, Frame{ID: id, Type: frameError, Payload: raw}); wErr != nil {
		s.log.WithField("context", p.contextID).Warn("write error frame: ", wErr)
	}
}

func (s *Server) lookupPeer(contextID string) (*peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[contextID]
	if !ok {
		return nil, errors.NewPeerUnreachable(contextID)
	}
	return p, nil
}

func newFrameID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func commandFrame(cmd engine.Command) (Frame, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return Frame{}, errors.NewInternal(err)
	}
	return Frame{ID: newFrameID(), Type: cmd.Type(), Payload: raw}, nil
}

// Send delivers a fire-and-forget command to a peer.
func (s *Server) Send(_ context.Context, contextID string, cmd engine.Command) error {
	p, err := s.lookupPeer(contextID)
	if err != nil {
		return err
	}
	frame, err := commandFrame(cmd)
	if err != nil {
		return err
	}
	return s.writeFrame(p, frame)
}

// Call delivers a command and waits for the peer's reply payload, bounded by
// the configured reply timeout.
func (s *Server) Call(ctx context.Context, contextID string, cmd engine.Command) (json.RawMessage, error) {
	p, err := s.lookupPeer(contextID)
	if err != nil {
		return nil, err
	}
	frame, err := commandFrame(cmd)
	if err != nil {
		return nil, err
	}

	ch := make(chan Frame, 1)
	s.mu.Lock()
	s.pending[frame.ID] = ch
	s.mu.Unlock()

	abandon := func() {
		s.mu.Lock()
		delete(s.pending, frame.ID)
		s.mu.Unlock()
	}

	if err := s.writeFrame(p, frame); err != nil {
		abandon()
		return nil, errors.NewPeerUnreachable(contextID)
	}

	timeout := time.Duration(s.cfg.PeerReplyTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Type == frameError {
			var payload errorPayload
			if err := json.Unmarshal(reply.Payload, &payload); err != nil {
				return nil, errors.NewInternal(err)
			}
			return nil, errors.NewInvalidRequest(payload.Message)
		}
		return reply.Payload, nil
	case <-timer.C:
		abandon()
		return nil, errors.NewPeerUnreachable(contextID)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}
