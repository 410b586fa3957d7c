// Package voicesession owns one voice conversation at a time: it reserves the
// session with the quota authority, drives the voice transport, folds the
// transport's events into a conversational status and transcript, enforces
// the plan's duration ceiling, and closes the session with the time used.
package voicesession

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/booktalk/internal/governor"
	"github.com/ent0n29/booktalk/internal/observability"
	"github.com/ent0n29/booktalk/internal/persona"
	"github.com/ent0n29/booktalk/internal/plan"
	"github.com/ent0n29/booktalk/internal/protocol"
	"github.com/ent0n29/booktalk/internal/quota"
	"github.com/ent0n29/booktalk/internal/reliability"
	"github.com/ent0n29/booktalk/internal/transcript"
	"github.com/ent0n29/booktalk/internal/transport"
)

const defaultCloseTimeout = 10 * time.Second

// Identity is the signed-in caller. An empty UserID means signed out.
type Identity struct {
	UserID string
	// Tier is the caller's plan. An unresolved tier gets free limits.
	Tier plan.Tier
}

type Config struct {
	Identity    Identity
	Book        persona.Book
	AssistantID string

	Quota     quota.Client
	Transport *transport.Handle
	Metrics   *observability.Metrics

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// TickInterval is the governor cadence. Defaults to one second.
	TickInterval time.Duration
	// CloseTimeout bounds each close-session call.
	CloseTimeout time.Duration
	// OnChange receives a snapshot after every state change. It runs on the
	// event loop and must not call Start or ClearError.
	OnChange func(State)
}

// Orchestrator is the voice session state machine. Every event is applied on
// a single goroutine, so handlers never race each other.
type Orchestrator struct {
	cfg  Config
	box  *mailbox
	done chan struct{}

	mu    sync.RWMutex
	state State

	closeOnce sync.Once
	// bookkeeping tracks reservation and close-session calls still in flight.
	bookkeeping sync.WaitGroup

	// Owned by the event loop.
	status      Status
	gen         uint64
	sessionID   string
	startedAt   time.Time
	elapsed     int
	ceiling     *governor.Latest[int]
	gov         *governor.Governor
	asm         *transcript.Assembler
	tr          transport.Transport
	unsubscribe func()
	stopping    bool
	closing     bool
	errMsg      string
	billing     bool
	pending     chan error
	pendingCtx  context.Context
}

type startRequest struct {
	ctx   context.Context
	reply chan error
}

type stopRequest struct{}

type clearErrorRequest struct {
	reply chan struct{}
}

type closeRequest struct {
	reply chan struct{}
}

type reserveResult struct {
	gen      uint64
	decision quota.Decision
	err      error
}

type transportEvent struct {
	gen uint64
	ev  transport.Event
}

type tick struct {
	gen     uint64
	elapsed int
}

type expiry struct {
	gen     uint64
	elapsed int
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Quota == nil {
		return nil, fmt.Errorf("quota client is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport handle is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = governor.DefaultInterval
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}

	o := &Orchestrator{
		cfg:     cfg,
		box:     newMailbox(),
		done:    make(chan struct{}),
		status:  StatusIdle,
		ceiling: governor.NewLatest(0),
		asm:     transcript.NewAssembler(),
	}
	o.state = o.snapshot()
	go o.run()
	return o, nil
}

// Start reserves a session and launches the call. It returns once the
// transport has accepted the start command or the attempt was rejected;
// rejections are also written to the error slot.
func (o *Orchestrator) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if !o.box.put(startRequest{ctx: ctx, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrClosed
	}
}

// Stop asks the transport to end the call and returns immediately. Teardown
// completes when the transport reports the call ended. Stop is a no-op when
// idle.
func (o *Orchestrator) Stop() {
	o.box.put(stopRequest{})
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// ClearError empties the error slot once the UI has shown it.
func (o *Orchestrator) ClearError() {
	reply := make(chan struct{})
	if !o.box.put(clearErrorRequest{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-o.done:
	}
}

// Close stops any active call, closes its session, detaches from the
// transport and waits for outstanding bookkeeping. It is safe to call more
// than once and concurrently with Stop.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		reply := make(chan struct{})
		if o.box.put(closeRequest{reply: reply}) {
			<-reply
		}
		<-o.done
		o.bookkeeping.Wait()
	})
	return nil
}

func (o *Orchestrator) run() {
	defer close(o.done)
	for range o.box.signal {
		for _, msg := range o.box.drain() {
			if o.closing {
				o.discard(msg)
				continue
			}
			o.dispatch(msg)
		}
		if o.closing {
			for _, msg := range o.box.close() {
				o.discard(msg)
			}
			return
		}
	}
}

func (o *Orchestrator) dispatch(msg any) {
	switch m := msg.(type) {
	case startRequest:
		o.handleStart(m)
	case stopRequest:
		o.handleStop()
	case clearErrorRequest:
		o.errMsg, o.billing = "", false
		o.publish()
		close(m.reply)
	case closeRequest:
		o.handleClose()
		close(m.reply)
	case reserveResult:
		o.handleReservation(m)
	case transportEvent:
		o.handleTransport(m)
	case tick:
		if m.gen == o.gen && o.status.IsActive() && m.elapsed > o.elapsed {
			o.elapsed = m.elapsed
			o.publish()
		}
	case expiry:
		o.handleExpiry(m)
	}
}

// discard settles messages that arrive after teardown.
func (o *Orchestrator) discard(msg any) {
	switch m := msg.(type) {
	case startRequest:
		m.reply <- ErrClosed
	case clearErrorRequest:
		close(m.reply)
	case closeRequest:
		close(m.reply)
	case reserveResult:
		o.releaseLateGrant(m)
	}
}

func (o *Orchestrator) handleStart(req startRequest) {
	if o.status != StatusIdle {
		req.reply <- ErrSessionActive
		return
	}
	userID := strings.TrimSpace(o.cfg.Identity.UserID)
	if userID == "" {
		o.setError(MsgSignInRequired, false)
		o.publish()
		req.reply <- ErrAuthRequired
		return
	}

	o.gen++
	gen := o.gen
	o.status = StatusConnecting
	o.errMsg, o.billing = "", false
	o.pending = req.reply
	o.pendingCtx = req.ctx
	o.cfg.Metrics.ClientEvent("start")
	o.publish()

	o.bookkeeping.Add(1)
	go func() {
		defer o.bookkeeping.Done()
		d, err := o.cfg.Quota.Reserve(req.ctx, userID, o.cfg.Book.ID)
		res := reserveResult{gen: gen, decision: d, err: err}
		if !o.box.put(res) {
			o.releaseLateGrant(res)
		}
	}()
}

func (o *Orchestrator) handleReservation(r reserveResult) {
	if r.gen != o.gen || o.status != StatusConnecting {
		o.releaseLateGrant(r)
		return
	}
	reply, ctx := o.pending, o.pendingCtx
	o.pending, o.pendingCtx = nil, nil

	if r.err != nil {
		log.Printf("voicesession: reserve session: %v", r.err)
		o.status = StatusIdle
		o.setError(MsgStartFailed, false)
		o.publish()
		reply <- fmt.Errorf("reserve session: %w", r.err)
		return
	}
	if !r.decision.Granted {
		msg := r.decision.Reason
		if msg == "" {
			msg = MsgSessionLimit
		}
		o.status = StatusIdle
		o.setError(msg, r.decision.BillingRelated)
		o.cfg.Metrics.ClientEvent("denied")
		o.publish()
		reply <- fmt.Errorf("%w: %s", ErrDenied, msg)
		return
	}

	// The ceiling comes from the caller's own plan; the authority's duration
	// is informational.
	o.sessionID = r.decision.SessionID
	o.status = StatusStarting
	o.elapsed = 0
	o.ceiling.Set(plan.LimitsFor(o.cfg.Identity.Tier).MaxSessionDuration())
	gen := o.gen
	o.gov = governor.New(o.ceiling, governor.Config{
		Interval: o.cfg.TickInterval,
		Now:      o.cfg.Now,
		OnTick: func(elapsed int) {
			o.box.put(tick{gen: gen, elapsed: elapsed})
		},
		OnExpire: func(elapsed int) {
			o.box.put(expiry{gen: gen, elapsed: elapsed})
		},
	})
	o.publish()

	tr, err := o.cfg.Transport.Get()
	if err == nil {
		o.tr = tr
		o.unsubscribe = tr.Subscribe(func(ev transport.Event) {
			o.box.put(transportEvent{gen: gen, ev: ev})
		})
		err = tr.Start(ctx, persona.AssistantConfig(o.cfg.AssistantID, o.cfg.Book))
	}
	if err != nil {
		log.Printf("voicesession: start transport: %v", err)
		o.tr = nil
		o.finishCall()
		o.setError(MsgStartFailed, false)
		o.publish()
		reply <- fmt.Errorf("start transport: %w", err)
		return
	}
	reply <- nil
}

// releaseLateGrant closes a session granted after the caller stopped waiting
// for it, so no call starts that nobody asked for.
func (o *Orchestrator) releaseLateGrant(r reserveResult) {
	if r.err != nil || !r.decision.Granted || r.decision.SessionID == "" {
		return
	}
	log.Printf("voicesession: session %s granted after stop; releasing", r.decision.SessionID)
	o.closeSession(r.decision.SessionID, 0)
}

func (o *Orchestrator) handleStop() {
	switch {
	case o.status == StatusIdle:
		return
	case o.status == StatusConnecting:
		o.abandonReservation(ErrStopped)
		o.publish()
		return
	case o.stopping:
		return
	}
	o.stopping = true
	o.cfg.Metrics.ClientEvent("stop")
	o.stopTransport()
	o.publish()
}

func (o *Orchestrator) abandonReservation(err error) {
	o.gen++
	o.status = StatusIdle
	if o.pending != nil {
		o.pending <- err
	}
	o.pending, o.pendingCtx = nil, nil
}

// stopTransport issues the stop command. The call ends when the transport
// reports call-end; if the command itself fails the call is torn down here.
func (o *Orchestrator) stopTransport() {
	if o.tr == nil {
		o.finishCall()
		return
	}
	if err := o.tr.Stop(); err != nil {
		log.Printf("voicesession: stop transport: %v", err)
		o.finishCall()
	}
}

func (o *Orchestrator) handleClose() {
	switch {
	case o.status == StatusConnecting:
		o.abandonReservation(ErrClosed)
	case o.status.IsActive():
		if !o.stopping {
			o.stopping = true
			if o.tr != nil {
				if err := o.tr.Stop(); err != nil {
					log.Printf("voicesession: stop transport: %v", err)
				}
			}
		}
		o.finishCall()
	}
	o.closing = true
	o.publish()
}

func (o *Orchestrator) handleTransport(m transportEvent) {
	if m.gen != o.gen || !o.status.IsActive() {
		return
	}
	switch m.ev.Type {
	case transport.EventCallStart:
		if o.status != StatusStarting || !o.startedAt.IsZero() {
			return
		}
		o.startedAt = o.cfg.Now()
		o.elapsed = 0
		o.asm.Reset()
		o.gov.Start(o.startedAt)
		o.cfg.Metrics.ClientEvent("call_start")
	case transport.EventSpeechStart:
		if o.stopping {
			return
		}
		switch o.status {
		case StatusStarting, StatusListening, StatusThinking:
			o.status = StatusSpeaking
			o.asm.BeginSpeaking(transcript.RoleAssistant)
		default:
			return
		}
	case transport.EventSpeechEnd:
		if o.stopping || o.status != StatusSpeaking {
			return
		}
		o.status = StatusListening
	case transport.EventMessage:
		if !o.applyMessage(m.ev.Message) {
			return
		}
	case transport.EventCallEnd:
		o.finishCall()
	case transport.EventError:
		o.failCall(m.ev.Err)
	default:
		return
	}
	o.publish()
}

func (o *Orchestrator) applyMessage(msg *transport.Message) bool {
	if msg == nil || msg.Type != protocol.TranscriptMessageType {
		return false
	}
	role, ok := transcript.ParseRole(msg.Role)
	if !ok {
		return false
	}
	fin := transcript.Partial
	if transcript.Finality(strings.ToLower(msg.TranscriptType)) == transcript.Final {
		fin = transcript.Final
	}
	o.asm.Apply(transcript.Fragment{Role: role, Text: msg.Transcript, Finality: fin})
	if fin == transcript.Final && role == transcript.RoleUser && o.status == StatusListening && !o.stopping {
		o.status = StatusThinking
	}
	return true
}

func (o *Orchestrator) failCall(err error) {
	desc := "unknown transport error"
	if err != nil {
		desc = err.Error()
	}
	class := reliability.ClassifyDisconnect(desc)
	o.cfg.Metrics.TransportError(string(class))
	log.Printf("voicesession: transport error (%s): %s", class, desc)
	// An error during teardown is still reported, but never over the
	// message that started the teardown (expiry).
	if !o.stopping || o.errMsg == "" {
		o.setError(transportErrorMessage(class), false)
	}
	if o.tr != nil && !o.stopping {
		if err := o.tr.Stop(); err != nil {
			log.Printf("voicesession: stop transport after error: %v", err)
		}
	}
	o.finishCall()
}

func (o *Orchestrator) handleExpiry(e expiry) {
	if e.gen != o.gen || !o.status.IsActive() || o.stopping {
		return
	}
	if e.elapsed > o.elapsed {
		o.elapsed = e.elapsed
	}
	ceiling := o.ceiling.Load()
	log.Printf("voicesession: session %s reached its %ds limit", o.sessionID, ceiling)
	o.cfg.Metrics.ClientEvent("expired")
	o.setError(expiryMessage(ceiling), false)
	o.stopping = true
	o.gov.Stop()
	o.stopTransport()
	o.publish()
}

// finishCall returns to idle and closes the reserved session exactly once.
func (o *Orchestrator) finishCall() {
	if o.gov != nil {
		o.gov.Stop()
		if e := o.gov.Elapsed(); e > o.elapsed {
			o.elapsed = e
		}
		o.gov = nil
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	if o.sessionID != "" {
		o.closeSession(o.sessionID, o.elapsed)
		o.sessionID = ""
	}
	o.gen++
	o.tr = nil
	o.status = StatusIdle
	o.stopping = false
	o.startedAt = time.Time{}
	o.asm.ClearLive()
	o.cfg.Metrics.ClientEvent("call_end")
}

// closeSession records usage off the event loop. Failures are logged only.
func (o *Orchestrator) closeSession(sessionID string, elapsed int) {
	o.bookkeeping.Add(1)
	go func() {
		defer o.bookkeeping.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CloseTimeout)
		defer cancel()
		if err := o.cfg.Quota.Close(ctx, sessionID, elapsed); err != nil {
			if errors.Is(err, quota.ErrUnknownSession) {
				log.Printf("voicesession: close session %s: already gone", sessionID)
				return
			}
			log.Printf("voicesession: close session %s: %v", sessionID, err)
		}
	}()
}

func (o *Orchestrator) setError(msg string, billing bool) {
	o.errMsg = msg
	o.billing = billing
}

func (o *Orchestrator) snapshot() State {
	return State{
		Status:             o.status,
		Active:             o.status.IsActive(),
		SessionID:          o.sessionID,
		UserID:             o.cfg.Identity.UserID,
		BookID:             o.cfg.Book.ID,
		StartedAt:          o.startedAt,
		ElapsedSeconds:     o.elapsed,
		MaxDurationSeconds: o.ceiling.Load(),
		Messages:           o.asm.Messages(),
		LiveUser:           o.asm.Live(transcript.RoleUser),
		LiveAssistant:      o.asm.Live(transcript.RoleAssistant),
		Error:              o.errMsg,
		BillingError:       o.billing,
	}
}

func (o *Orchestrator) publish() {
	s := o.snapshot()
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	if o.cfg.OnChange != nil {
		o.cfg.OnChange(s)
	}
}
