package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/epglabs/epgio/internal/ble"
	"github.com/epglabs/epgio/internal/observability"
	"github.com/epglabs/epgio/internal/protocol/command"
	"github.com/epglabs/epgio/internal/protocol/frame"
)

var (
	ErrNotConnected = errors.New("stream: not connected")
	ErrStopped      = errors.New("stream: handler stopped")
)

// Config tunes the streaming loop. Zero values take defaults.
type Config struct {
	BatchInterval time.Duration
	// MaxBuffered is the device-time span the pending buffer may cover
	// before the drop policy runs.
	MaxBuffered       time.Duration
	Drop              DropPolicy
	Reconnect         ReconnectPolicy
	KeepaliveInterval time.Duration
	ThroughputWindow  time.Duration
	WritesPerSecond   float64
	// WriteSync makes command writes acknowledged and reported by default.
	WriteSync bool
	// ThroughputTelemetry enables the periodic samples-per-second report.
	ThroughputTelemetry bool
	EventQueueSize      int
	Timeouts            ble.Timeouts
}

func DefaultConfig() Config {
	return Config{
		BatchInterval:       50 * time.Millisecond,
		MaxBuffered:         2 * time.Second,
		Drop:                DropOldest{},
		Reconnect:           DefaultPolicy(),
		KeepaliveInterval:   2 * time.Second,
		ThroughputWindow:    1 * time.Second,
		WritesPerSecond:     20,
		WriteSync:           true,
		ThroughputTelemetry: true,
		EventQueueSize:      defaultEventQueueSize,
		Timeouts:            ble.DefaultTimeouts(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BatchInterval <= 0 {
		c.BatchInterval = d.BatchInterval
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = d.MaxBuffered
	}
	if c.Drop == nil {
		c.Drop = d.Drop
	}
	if len(c.Reconnect.Delays) == 0 {
		c.Reconnect = d.Reconnect
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.ThroughputWindow <= 0 {
		c.ThroughputWindow = d.ThroughputWindow
	}
	if c.WritesPerSecond <= 0 {
		c.WritesPerSecond = d.WritesPerSecond
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = d.EventQueueSize
	}
	c.Timeouts = c.Timeouts.WithDefaults()
	return c
}

// Status is a point-in-time snapshot for control surfaces.
type Status struct {
	State             string  `json:"state"`
	Address           string  `json:"address,omitempty"`
	SamplesTotal      uint64  `json:"samples_total"`
	SamplesDropped    uint64  `json:"samples_dropped"`
	MalformedFrames   uint64  `json:"malformed_frames"`
	ReconnectAttempts uint64  `json:"reconnect_attempts"`
	Throughput        float64 `json:"samples_per_second"`
	DroppedEvents     uint64  `json:"dropped_events"`
	BufferedSamples   int     `json:"buffered_samples"`
}

// Handler runs the full lifecycle for one board. All mutable state is owned
// by a single run loop goroutine; external callers submit closures through
// the op queue and read results via reply channels or events.
//
// Every connect or disconnect request bumps the generation counter. Blocking
// transport work happens on sub-goroutines that post their results back as
// generation-guarded closures, so a result arriving after the user moved on
// is discarded instead of corrupting the newer sequence.
type Handler struct {
	cfg    Config
	dialer ble.Dialer
	disp   *dispatcher

	ops       chan func()
	runCtx    context.Context
	runCancel context.CancelFunc
	done      chan struct{}
	writeSync atomic.Bool

	// Run loop owned. Never touched from other goroutines.
	state        ConnectionState
	target       ble.Target
	disconnected bool
	gen          uint64
	session      ble.Session
	parser       *frame.Parser
	out          *outbox
	pending      []Sample
	retryAttempt int
	retryTimer   *time.Timer
	batchTicker  *time.Ticker

	samplesTotal    uint64
	samplesDropped  uint64
	malformedFrames uint64
	reconnects      uint64
	windowSamples   uint64
	throughput      float64
}

func NewHandler(cfg Config, dialer ble.Dialer) *Handler {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		cfg:       cfg,
		dialer:    dialer,
		disp:      newDispatcher(cfg.EventQueueSize),
		ops:       make(chan func(), 64),
		runCtx:    ctx,
		runCancel: cancel,
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	h.writeSync.Store(cfg.WriteSync)
	go h.run()
	return h
}

// AddSink registers an event consumer. Sinks run off the run loop and must
// not call back into the handler synchronously.
func (h *Handler) AddSink(sink func(Event)) { h.disp.addSink(sink) }

func (h *Handler) run() {
	defer close(h.done)

	h.batchTicker = time.NewTicker(h.cfg.BatchInterval)
	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	window := time.NewTicker(h.cfg.ThroughputWindow)
	defer h.batchTicker.Stop()
	defer keepalive.Stop()
	defer window.Stop()

	for {
		select {
		case <-h.runCtx.Done():
			h.teardown()
			return
		case op := <-h.ops:
			op()
		case <-h.batchTicker.C:
			h.flushBatch()
		case <-keepalive.C:
			h.checkLink()
		case <-window.C:
			h.reportThroughput()
		}
	}
}

// post submits an op to the run loop. Returns false once the handler is
// stopping, so callers never block against a dead loop. An op can still slip
// into the queue while Stop is racing the submission and then never run;
// anything that waits for a reply must therefore also select on h.done.
func (h *Handler) post(op func()) bool {
	select {
	case h.ops <- op:
		return true
	case <-h.runCtx.Done():
		return false
	}
}

// Connect begins (or restarts) a connection sequence to target. Connecting
// to the address already connected is a no-op.
func (h *Handler) Connect(target ble.Target) error {
	if !target.Complete() {
		return ble.ErrMissingTarget
	}
	if !h.post(func() { h.startConnect(target) }) {
		return ErrStopped
	}
	return nil
}

func (h *Handler) startConnect(target ble.Target) {
	if h.state == StateConnected && h.target == target {
		log.Debug().Str("address", target.Address).Msg("already connected, ignoring connect")
		return
	}
	h.gen++
	gen := h.gen
	h.disconnected = false
	h.target = target
	h.retryAttempt = 0
	h.stopRetryTimer()
	h.releaseSession()
	h.setState(StateConnecting)

	go h.attempt(gen, target)
}

// attempt does the blocking transport work for one dial. It runs off the
// loop and posts its outcome back under the generation it was started for.
func (h *Handler) attempt(gen uint64, target ble.Target) {
	parser := frame.NewParser()
	session, err := h.dialer.Dial(target, h.cfg.Timeouts)
	if err == nil {
		err = session.Connect(h.runCtx)
	}
	if err == nil {
		err = session.StartNotifications(h.runCtx, parser.Feed)
	}
	h.post(func() { h.onAttemptResult(gen, target, session, parser, err) })
}

func (h *Handler) onAttemptResult(gen uint64, target ble.Target, session ble.Session, parser *frame.Parser, err error) {
	if gen != h.gen || h.disconnected {
		// A newer sequence took over while this attempt was in flight.
		if session != nil {
			go session.Stop()
		}
		return
	}
	if err != nil {
		if session != nil {
			go session.Stop()
		}
		log.Warn().Err(err).Str("address", target.Address).Msg("connect attempt failed")
		if errors.Is(err, ble.ErrMissingTarget) {
			// Broken configuration cannot be retried into working.
			h.disp.publish(ErrorOccurred{Message: err.Error(), Code: "bad_config"})
			h.stopRetryTimer()
			h.setState(StateError)
			return
		}
		h.disp.publish(ErrorOccurred{Message: err.Error(), Code: "connect_failed"})
		h.scheduleRetry(gen)
		return
	}

	h.session = session
	h.parser = parser
	h.out = newOutbox(session, h.cfg.WritesPerSecond, func(w pendingWrite, werr error) {
		h.post(func() { h.onWriteDone(gen, w, werr) })
	})
	h.retryAttempt = 0
	h.setState(StateConnected)
	log.Info().Str("address", target.Address).Msg("board connected")
}

func (h *Handler) scheduleRetry(gen uint64) {
	delay, ok := h.cfg.Reconnect.Delay(h.retryAttempt)
	if !ok {
		log.Error().
			Str("address", h.target.Address).
			Int("attempts", h.cfg.Reconnect.MaxAttempts()).
			Msg("reconnect attempts exhausted")
		h.disp.publish(ErrorOccurred{Message: "reconnect attempts exhausted", Code: "reconnect_exhausted"})
		h.finishDisconnect()
		return
	}
	h.retryAttempt++
	h.reconnects++
	observability.RecordReconnectAttempt(h.target.Address)
	// Announced once per retry, even when the state is already
	// Reconnecting, so consumers can count attempts.
	h.state = StateReconnecting
	log.Debug().Str("state", h.state.String()).Str("address", h.target.Address).Int("attempt", h.retryAttempt).Msg("state changed")
	h.disp.publish(StateChanged{State: StateReconnecting, Address: h.target.Address})
	h.retryTimer = time.AfterFunc(delay, func() {
		h.post(func() { h.onRetryTimer(gen) })
	})
}

func (h *Handler) onRetryTimer(gen uint64) {
	if gen != h.gen || h.disconnected {
		return
	}
	go h.attempt(gen, h.target)
}

// checkLink notices a peer-initiated drop between writes and starts the
// reconnect cycle from the first delay.
func (h *Handler) checkLink() {
	if h.state != StateConnected || h.session == nil {
		return
	}
	if h.session.Connected() {
		return
	}
	log.Warn().Str("address", h.target.Address).Msg("link dropped")
	h.disp.publish(ErrorOccurred{Message: "connection lost", Code: "link_lost"})
	h.releaseSession()
	h.retryAttempt = 0
	h.scheduleRetry(h.gen)
}

// Disconnect tears the current sequence down. Safe to call in any state.
func (h *Handler) Disconnect() error {
	if !h.post(func() { h.startDisconnect() }) {
		return ErrStopped
	}
	return nil
}

func (h *Handler) startDisconnect() {
	switch h.state {
	case StateIdle, StateDisconnected, StateDisconnecting:
		return
	}
	h.gen++
	h.disconnected = true
	h.stopRetryTimer()
	h.setState(StateDisconnecting)

	session := h.session
	h.session = nil
	if h.out != nil {
		h.out.stop()
		h.out = nil
	}
	go func() {
		if session != nil {
			session.Stop()
		}
		h.post(func() { h.finishDisconnect() })
	}()
}

func (h *Handler) finishDisconnect() {
	h.stopRetryTimer()
	h.releaseSession()
	h.target = ble.Target{}
	h.parser = nil
	h.pending = nil
	h.setState(StateDisconnected)
}

func (h *Handler) releaseSession() {
	if h.out != nil {
		h.out.stop()
		h.out = nil
	}
	if h.session != nil {
		go h.session.Stop()
		h.session = nil
	}
}

func (h *Handler) stopRetryTimer() {
	if h.retryTimer != nil {
		h.retryTimer.Stop()
		h.retryTimer = nil
	}
}

func (h *Handler) setState(s ConnectionState) {
	if h.state == s {
		return
	}
	h.state = s
	log.Debug().Str("state", s.String()).Str("address", h.target.Address).Msg("state changed")
	h.disp.publish(StateChanged{State: s, Address: h.target.Address})
}

// flushBatch drains the parser and emits at most one data batch. Management
// lines always go out first so status text is never reordered behind the
// samples it describes.
func (h *Handler) flushBatch() {
	if h.parser == nil || h.state != StateConnected {
		return
	}
	data, mgmt, malformed := h.parser.Drain()
	if malformed > 0 {
		h.malformedFrames += uint64(malformed)
		observability.RecordMalformedFrames(malformed)
		log.Debug().Int("count", malformed).Msg("malformed frames dropped")
	}
	if len(mgmt) > 0 {
		lines := make([]string, len(mgmt))
		for i, m := range mgmt {
			lines[i] = m.Payload
		}
		h.disp.publish(ManagementFrames{Lines: lines})
	}
	for _, df := range data {
		h.pending = append(h.pending, Sample{Timestamp: df.TimestampMS, Value: int64(df.Millivolts)})
	}
	h.samplesTotal += uint64(len(data))
	h.windowSamples += uint64(len(data))
	observability.RecordSamples(len(data))

	kept, dropped := h.cfg.Drop.Apply(h.pending, h.cfg.MaxBuffered)
	if dropped > 0 {
		h.samplesDropped += uint64(dropped)
		observability.RecordSamplesDropped(dropped, h.cfg.Drop.Name())
		h.disp.publish(SamplesDropped{Count: dropped, Policy: h.cfg.Drop.Name()})
	}
	h.pending = kept

	if len(h.pending) == 0 {
		return
	}
	batch := make([]Sample, len(h.pending))
	copy(batch, h.pending)
	h.pending = h.pending[:0]
	observability.RecordBatch(len(batch))
	h.disp.publish(DataBatch{Samples: batch})
}

func (h *Handler) reportThroughput() {
	if !h.cfg.ThroughputTelemetry || h.state != StateConnected {
		h.windowSamples = 0
		return
	}
	h.throughput = float64(h.windowSamples) / h.cfg.ThroughputWindow.Seconds()
	h.windowSamples = 0
	observability.SetThroughput(h.throughput)
	h.disp.publish(ThroughputUpdated{
		SamplesPerSecond: h.throughput,
		Window:           h.cfg.ThroughputWindow,
	})
}

func (h *Handler) onWriteDone(gen uint64, w pendingWrite, err error) {
	if gen != h.gen {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("command", w.command).Msg("command write failed")
	} else {
		log.Debug().Str("command", w.command).Str("tag", w.tag).Msg("command written")
	}
	if !w.sync {
		// Fire-and-forget outcomes are logged, never reported.
		return
	}
	ev := WriteCompleted{Tag: w.tag, Command: w.command}
	if err != nil {
		ev.Err = err.Error()
	}
	h.disp.publish(ev)
}

// SendLabel queues a discrete-setting command, e.g. input resistance "1M".
func (h *Handler) SendLabel(key command.Key, label string) (string, error) {
	text, err := command.ForLabel(key, label)
	if err != nil {
		return "", err
	}
	return h.SendCommand(text, "", h.writeSync.Load())
}

// SendValue queues a numeric-setting command, e.g. DDS amplitude 1.25.
func (h *Handler) SendValue(key command.Key, value float64) (string, error) {
	text, err := command.ForValue(key, value)
	if err != nil {
		return "", err
	}
	return h.SendCommand(text, "", h.writeSync.Load())
}

// SendRaw queues an arbitrary command string for firmware features that have
// no structured key yet.
func (h *Handler) SendRaw(text string) (string, error) {
	return h.SendCommand(text, "", h.writeSync.Load())
}

// StartStream issues the acquisition start handshake fire-and-forget.
func (h *Handler) StartStream() error {
	for _, text := range command.StartCommands() {
		if _, err := h.SendCommand(text, "", false); err != nil {
			return err
		}
	}
	return nil
}

// SendCommand queues text for delivery. A sync write is acknowledged by the
// peer and reported through a WriteCompleted event under tag; a
// fire-and-forget write is only logged. An empty tag gets a generated one.
func (h *Handler) SendCommand(text, tag string, sync bool) (string, error) {
	if text == "" {
		return "", errors.New("stream: empty command")
	}
	payload := command.EncodePayload(text)
	type result struct {
		tag string
		err error
	}
	reply := make(chan result, 1)
	ok := h.post(func() {
		if h.state != StateConnected || h.out == nil {
			if tag == "" {
				tag = uuid.NewString()
			}
			if sync {
				// Event-only consumers see the failure too.
				h.disp.publish(WriteCompleted{Tag: tag, Command: text, Err: ErrNotConnected.Error()})
			}
			reply <- result{tag: tag, err: ErrNotConnected}
			return
		}
		assigned, err := h.out.enqueue(text, tag, payload, sync)
		reply <- result{tag: assigned, err: err}
	})
	if !ok {
		return "", ErrStopped
	}
	select {
	case r := <-reply:
		return r.tag, r.err
	case <-h.done:
		return "", ErrStopped
	}
}

// SetDropPolicy swaps the backpressure policy at runtime.
func (h *Handler) SetDropPolicy(name string) error {
	policy, err := ParseDropPolicy(name)
	if err != nil {
		return err
	}
	if !h.post(func() { h.cfg.Drop = policy }) {
		return ErrStopped
	}
	return nil
}

// SetMaxBuffered adjusts the backpressure span at runtime.
func (h *Handler) SetMaxBuffered(d time.Duration) error {
	if d <= 0 {
		return errors.New("stream: max buffered span must be positive")
	}
	if !h.post(func() { h.cfg.MaxBuffered = d }) {
		return ErrStopped
	}
	return nil
}

// SetDefaultWriteSync flips whether SendRaw and the key-based senders
// default to acknowledged writes.
func (h *Handler) SetDefaultWriteSync(sync bool) {
	h.writeSync.Store(sync)
}

// SetBatchInterval adjusts the emission cadence at runtime.
func (h *Handler) SetBatchInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New("stream: batch interval must be positive")
	}
	if !h.post(func() {
		h.cfg.BatchInterval = d
		h.batchTicker.Reset(d)
	}) {
		return ErrStopped
	}
	return nil
}

// Snapshot returns current status. Returns a disconnected snapshot when the
// handler has stopped.
func (h *Handler) Snapshot() Status {
	reply := make(chan Status, 1)
	ok := h.post(func() {
		reply <- Status{
			State:             h.state.String(),
			Address:           h.target.Address,
			SamplesTotal:      h.samplesTotal,
			SamplesDropped:    h.samplesDropped,
			MalformedFrames:   h.malformedFrames,
			ReconnectAttempts: h.reconnects,
			Throughput:        h.throughput,
			DroppedEvents:     h.disp.droppedEvents(),
			BufferedSamples:   len(h.pending),
		}
	})
	if !ok {
		return Status{State: StateDisconnected.String()}
	}
	select {
	case st := <-reply:
		return st
	case <-h.done:
		return Status{State: StateDisconnected.String()}
	}
}

// Stop shuts the run loop down and releases the transport. The handler
// cannot be restarted.
func (h *Handler) Stop() {
	h.runCancel()
	<-h.done
	h.disp.stop()
}

func (h *Handler) teardown() {
	h.stopRetryTimer()
	if h.out != nil {
		h.out.stop()
		h.out = nil
	}
	if h.session != nil {
		h.session.Stop()
		h.session = nil
	}
}
