// internal/stream/manager.go
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"inkforge/internal/provider"
)

// Phase is the lifecycle phase of a live stream.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseThinking     Phase = "thinking"
	PhaseResponding   Phase = "responding"
	PhaseRetrying     Phase = "retrying"
)

// Event names emitted by the manager.
const (
	EventStarted = "stream:started"
	EventToken   = "stream:token"
	EventStatus  = "stream:status"
	EventDone    = "stream:done"
	EventError   = "stream:error"
)

type StartedEvent struct {
	StreamID           string `json:"streamId"`
	VersionGroupID     string `json:"versionGroupId"`
	AssistantMessageID string `json:"assistantMessageId"`
	Provider           string `json:"provider"`
}

type TokenEvent struct {
	StreamID string `json:"streamId"`
	Token    string `json:"token"`
}

type StatusEvent struct {
	StreamID string `json:"streamId"`
	Phase    Phase  `json:"phase"`
}

type DoneEvent struct {
	StreamID  string `json:"streamId"`
	Cancelled bool   `json:"cancelled"`
}

type ErrorEvent struct {
	StreamID string `json:"streamId"`
	Provider string `json:"provider"`
	Message  string `json:"message"`
}

// EventEmitter pushes events to connected clients.
type EventEmitter interface {
	Emit(eventName string, data interface{})
}

// Caller produces a streamed model response. provider.Provider
// satisfies it; tests substitute fakes.
type Caller interface {
	ID() string
	Stream(ctx context.Context, messages []provider.Message, system string, onToken func(string)) (string, error)
}

// StartRequest describes one model turn.
type StartRequest struct {
	StreamID           string
	AssistantMessageID string
	VersionGroupID     string
	Messages           []provider.Message
	System             string
	Caller             Caller

	// origin is the stream ID the caller registered. Set by the
	// watchdog on auto-retry so completion reports under the ID the
	// caller knows.
	origin string
}

// Result is the settled outcome of a stream, delivered to waiters.
type Result struct {
	StreamID  string
	Content   string
	Cancelled bool
	Err       error
}

// Stream is one live model response.
type Stream struct {
	ID                 string
	AssistantMessageID string
	VersionGroupID     string

	req StartRequest

	mu          sync.Mutex
	text        string
	phase       Phase
	gotToken    bool
	cancelled   bool // manual cancel
	retrying    bool // watchdog is replacing this stream
	finished    bool
	err         error
	replacedBy  string
	startedAt   time.Time
	lastTokenAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	quiesced chan struct{} // run goroutine exited
	done     chan struct{} // result settled; waiters may read
}

// ErrAwaitTimeout is returned when a waiter outlives the await ceiling.
var ErrAwaitTimeout = errors.New("stream: await ceiling exceeded")

// ErrUnknownStream is returned for operations on a pruned or never
// started stream.
var ErrUnknownStream = errors.New("stream: unknown stream")

// Manager owns all live streams, their version groups, and waiter
// settlement. Finished stream records are pruned after a short
// retention window; content lives on in the transcript and in the
// version registry.
type Manager struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	emitter  EventEmitter
	Versions *VersionRegistry

	firstTokenTimeout time.Duration
	awaitCeiling      time.Duration
	pruneDelay        time.Duration

	// OnComplete runs after a stream settles successfully, outside
	// manager locks. The app hooks change-set extraction here.
	OnComplete func(streamID, versionGroupID, content string, cancelled bool)
}

func NewManager(emitter EventEmitter) *Manager {
	return &Manager{
		streams:           make(map[string]*Stream),
		emitter:           emitter,
		Versions:          NewVersionRegistry(),
		firstTokenTimeout: 30 * time.Second,
		awaitCeiling:      8 * time.Minute,
		pruneDelay:        30 * time.Second,
	}
}

// SetTimeouts overrides the default watchdog, await, and prune
// durations. Zero values keep the current setting.
func (m *Manager) SetTimeouts(firstToken, awaitCeiling, pruneDelay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if firstToken > 0 {
		m.firstTokenTimeout = firstToken
	}
	if awaitCeiling > 0 {
		m.awaitCeiling = awaitCeiling
	}
	if pruneDelay > 0 {
		m.pruneDelay = pruneDelay
	}
}

// Start launches a new stream and returns its ID. The response is
// delivered through token events and, on settlement, to Await callers.
func (m *Manager) Start(req StartRequest) (string, error) {
	if req.Caller == nil {
		return "", fmt.Errorf("start stream: no provider")
	}
	if req.StreamID == "" {
		req.StreamID = uuid.New().String()
	}
	if req.VersionGroupID == "" {
		req.VersionGroupID = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		ID:                 req.StreamID,
		AssistantMessageID: req.AssistantMessageID,
		VersionGroupID:     req.VersionGroupID,
		req:                req,
		phase:              PhaseInitializing,
		startedAt:          time.Now(),
		ctx:                ctx,
		cancel:             cancel,
		quiesced:           make(chan struct{}),
		done:               make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.streams[s.ID]; exists {
		m.mu.Unlock()
		cancel()
		return "", fmt.Errorf("start stream: id %s already active", s.ID)
	}
	m.streams[s.ID] = s
	timeout := m.firstTokenTimeout
	m.mu.Unlock()

	m.Versions.storeRequest(req.VersionGroupID, req)

	m.emit(EventStarted, StartedEvent{
		StreamID:           s.ID,
		VersionGroupID:     s.VersionGroupID,
		AssistantMessageID: s.AssistantMessageID,
		Provider:           req.Caller.ID(),
	})
	m.emit(EventStatus, StatusEvent{StreamID: s.ID, Phase: PhaseInitializing})

	watchdog := time.AfterFunc(timeout, func() { m.firstTokenWatchdog(s) })
	go m.run(s, watchdog)
	return s.ID, nil
}

func (m *Manager) run(s *Stream, watchdog *time.Timer) {
	m.setPhase(s, PhaseThinking)

	_, err := s.req.Caller.Stream(s.ctx, s.req.Messages, s.req.System, func(tok string) {
		s.mu.Lock()
		if s.cancelled || s.retrying {
			s.mu.Unlock()
			return
		}
		firstToken := !s.gotToken
		s.gotToken = true
		var appended string
		s.text, _, appended = appendChunkWithOverlap(s.text, tok)
		s.lastTokenAt = time.Now()
		s.mu.Unlock()

		if firstToken {
			watchdog.Stop()
			m.setPhase(s, PhaseResponding)
		}
		if appended != "" {
			m.emit(EventToken, TokenEvent{StreamID: s.ID, Token: appended})
		}
	})

	watchdog.Stop()
	m.finish(s, err)
}

func (m *Manager) finish(s *Stream, err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	retrying := s.retrying
	cancelled := s.cancelled
	content := s.text
	if err != nil && !errors.Is(err, context.Canceled) && !cancelled {
		s.err = err
	}
	streamErr := s.err
	s.mu.Unlock()

	close(s.quiesced)
	if retrying {
		// The watchdog owns settlement from here.
		return
	}

	if streamErr != nil {
		m.emit(EventError, ErrorEvent{
			StreamID: s.ID,
			Provider: s.req.Caller.ID(),
			Message:  streamErr.Error(),
		})
		log.Printf("[Stream] %s failed: %v", s.ID, streamErr)
	}

	if content != "" {
		m.Versions.Record(s.VersionGroupID, Version{
			Content:   content,
			Cancelled: cancelled,
			CreatedAt: time.Now(),
		})
	}

	m.emit(EventDone, DoneEvent{StreamID: s.ID, Cancelled: cancelled})
	close(s.done)
	m.schedulePrune(s.ID)

	if m.OnComplete != nil && streamErr == nil {
		m.OnComplete(originID(s), s.VersionGroupID, content, cancelled)
	}
}

// originID resolves the stream ID a caller registered: the original
// ID for an auto-retry replacement, the stream's own ID otherwise.
func originID(s *Stream) string {
	if s.req.origin != "" {
		return s.req.origin
	}
	return s.ID
}

// firstTokenWatchdog fires when a stream has produced nothing within
// the first-token timeout. Each version group gets at most one
// automatic retry; after that the stream settles as failed.
func (m *Manager) firstTokenWatchdog(s *Stream) {
	s.mu.Lock()
	if s.gotToken || s.cancelled || s.finished || s.retrying {
		s.mu.Unlock()
		return
	}
	if !m.Versions.markAutoRetried(s.VersionGroupID) {
		s.err = fmt.Errorf("no response from %s within first-token timeout", s.req.Caller.ID())
		s.mu.Unlock()
		s.cancel()
		return
	}
	s.retrying = true
	s.mu.Unlock()

	log.Printf("[Stream] %s produced no tokens, retrying version group %s", s.ID, s.VersionGroupID)
	m.setPhase(s, PhaseRetrying)
	s.cancel()
	<-s.quiesced
	m.waitQuiet(s.ID, 5*time.Second)

	s.mu.Lock()
	dead := s.text
	userCancelled := s.cancelled
	s.mu.Unlock()
	if dead != "" {
		m.Versions.Record(s.VersionGroupID, Version{
			Content:   dead,
			Cancelled: true,
			CreatedAt: time.Now(),
		})
	}

	var newID string
	if !userCancelled {
		req, ok := m.Versions.requestFor(s.VersionGroupID)
		if !ok {
			req = s.req
		}
		req.StreamID = ""
		req.origin = originID(s)

		var err error
		newID, err = m.Start(req)

		s.mu.Lock()
		if err != nil {
			s.err = fmt.Errorf("retry stream: %w", err)
		} else {
			s.replacedBy = newID
		}
		userCancelled = s.cancelled
		s.mu.Unlock()
	}

	m.emit(EventDone, DoneEvent{StreamID: s.ID, Cancelled: true})
	close(s.done)
	m.schedulePrune(s.ID)

	// A cancel that raced the replacement start lands on the new stream.
	if userCancelled && newID != "" {
		m.Cancel(newID)
	}
}

// waitQuiet blocks until no stream other than exceptID is live, or the
// bound elapses.
func (m *Manager) waitQuiet(exceptID string, bound time.Duration) {
	deadline := time.Now().Add(bound)
	for time.Now().Before(deadline) {
		if m.activeCountExcept(exceptID) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (m *Manager) activeCountExcept(exceptID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for id, s := range m.streams {
		if id == exceptID {
			continue
		}
		s.mu.Lock()
		live := !s.finished
		s.mu.Unlock()
		if live {
			n++
		}
	}
	return n
}

// Cancel stops a live stream. A manual cancel suppresses the
// first-token auto-retry and settles waiters with a cancelled result.
// Cancelling a stream the watchdog already replaced follows the
// replacement chain to the live stream.
func (m *Manager) Cancel(streamID string) error {
	for {
		m.mu.RLock()
		s, ok := m.streams[streamID]
		m.mu.RUnlock()
		if !ok {
			return ErrUnknownStream
		}

		s.mu.Lock()
		if s.finished || s.retrying {
			next := s.replacedBy
			if next == "" && s.retrying {
				// Replacement not started yet; the watchdog checks
				// this flag before launching it.
				s.cancelled = true
			}
			s.mu.Unlock()
			if next != "" {
				streamID = next
				continue
			}
			return nil
		}
		s.cancelled = true
		s.mu.Unlock()

		s.cancel()
		return nil
	}
}

// Await blocks until the stream settles, following auto-retry
// replacements transparently. It returns ErrAwaitTimeout if the ceiling
// elapses first.
func (m *Manager) Await(ctx context.Context, streamID string) (Result, error) {
	m.mu.RLock()
	ceiling := m.awaitCeiling
	m.mu.RUnlock()

	deadline := time.Now().Add(ceiling)
	for {
		m.mu.RLock()
		s, ok := m.streams[streamID]
		m.mu.RUnlock()
		if !ok {
			return Result{}, ErrUnknownStream
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Result{}, ErrAwaitTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-s.done:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
			return Result{}, ErrAwaitTimeout
		}

		s.mu.Lock()
		next := s.replacedBy
		res := Result{
			StreamID:  s.ID,
			Content:   s.text,
			Cancelled: s.cancelled || (s.retrying && next == ""),
			Err:       s.err,
		}
		s.mu.Unlock()

		if next != "" {
			streamID = next
			continue
		}
		return res, nil
	}
}

// IsStreaming reports whether any stream is still live.
func (m *Manager) IsStreaming() bool {
	return m.activeCountExcept("") > 0
}

// Phase returns the current phase of a stream.
func (m *Manager) Phase(streamID string) (Phase, error) {
	m.mu.RLock()
	s, ok := m.streams[streamID]
	m.mu.RUnlock()
	if !ok {
		return "", ErrUnknownStream
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, nil
}

// Text returns the accumulated text of a stream.
func (m *Manager) Text(streamID string) (string, error) {
	m.mu.RLock()
	s, ok := m.streams[streamID]
	m.mu.RUnlock()
	if !ok {
		return "", ErrUnknownStream
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text, nil
}

func (m *Manager) setPhase(s *Stream, p Phase) {
	s.mu.Lock()
	if s.finished || s.phase == p {
		s.mu.Unlock()
		return
	}
	s.phase = p
	s.mu.Unlock()
	m.emit(EventStatus, StatusEvent{StreamID: s.ID, Phase: p})
}

func (m *Manager) schedulePrune(streamID string) {
	m.mu.RLock()
	delay := m.pruneDelay
	m.mu.RUnlock()
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.streams, streamID)
		m.mu.Unlock()
	})
}

func (m *Manager) emit(name string, data interface{}) {
	if m.emitter != nil {
		m.emitter.Emit(name, data)
	}
}
