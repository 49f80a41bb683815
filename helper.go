package mqttc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HelperState is the state of a Helper.
type HelperState int

// Helper states.
const (
	HelperUninit HelperState = iota
	HelperDisconnected
	HelperTransportConnecting
	HelperConnecting
	HelperTransportConnected
	HelperConnected
	HelperDisconnecting
)

// String returns the string representation of the state.
func (s HelperState) String() string {
	switch s {
	case HelperUninit:
		return "uninit"
	case HelperDisconnected:
		return "disconnected"
	case HelperTransportConnecting:
		return "transport-connecting"
	case HelperConnecting:
		return "connecting"
	case HelperTransportConnected:
		return "transport-connected"
	case HelperConnected:
		return "connected"
	case HelperDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// helperTransitions lists the legal successors of each state.
var helperTransitions = map[HelperState][]HelperState{
	HelperUninit:              {HelperDisconnected},
	HelperDisconnected:        {HelperConnecting, HelperUninit, HelperTransportConnecting},
	HelperTransportConnecting: {HelperTransportConnected, HelperDisconnected},
	HelperConnecting:          {HelperConnected, HelperDisconnected},
	HelperTransportConnected:  {HelperConnecting, HelperDisconnected},
	HelperConnected:           {HelperDisconnecting, HelperDisconnected},
	HelperDisconnecting:       {HelperDisconnected},
}

// HelperError identifies a failure reported through OnError.
type HelperError int

const (
	// HelperErrorMessageSize means an inbound payload exceeded the payload
	// limit and was dropped.
	HelperErrorMessageSize HelperError = iota + 1
)

// String returns the string representation of the error kind.
func (k HelperError) String() string {
	switch k {
	case HelperErrorMessageSize:
		return "message-size"
	default:
		return "unknown"
	}
}

var (
	// ErrWrongState is returned by Helper methods called in a state that
	// does not allow them.
	ErrWrongState = errors.New("mqttc: helper in wrong state")

	// ErrSubscriptionRefused is passed to OnSuback when the broker refused at
	// least one topic.
	ErrSubscriptionRefused = errors.New("mqttc: subscription refused")
)

// HelperCallbacks receive the events of a Helper. Every callback is optional.
// Callbacks run on the goroutine that drives the Helper.
type HelperCallbacks struct {
	// OnAllEvents sees every event first. Returning false consumes the
	// event and skips the specific callbacks.
	OnAllEvents func(c *Client, ev *Event) bool

	OnConnack    func(code ConnackReturnCode, sessionPresent bool)
	OnDisconnect func(result error)
	OnPublish    func(topic string, payload []byte)
	OnPuback     func(messageID uint16, result error)
	OnSuback     func(messageID uint16, result error)
	OnError      func(kind HelperError)
}

// HelperConnParams describes the connection opened by Helper.Connect.
type HelperConnParams struct {
	ClientID  string
	Broker    string
	Transport Transport
	Auth      *Auth
	Will      *Will

	// Setup may adjust the client after the fields above were applied, for
	// example with Config.ApplyTo.
	Setup func(c *Client) error
}

// helperPollInterval bounds the wait of Run for transports that cannot
// signal readability.
const helperPollInterval = 50 * time.Millisecond

// readableTransport is implemented by transports that signal when Read has
// data, such as ConnTransport.
type readableTransport interface {
	Readable() <-chan struct{}
}

// Helper runs a single MQTT 3.1.1 connection on top of an Engine. It tracks
// its own connection state, acknowledges QoS 1 messages, enforces a payload
// limit and drives the engine from Run.
type Helper struct {
	engine *Engine
	client Client
	logger Logger

	mu         sync.Mutex
	state      HelperState
	cb         HelperCallbacks
	maxPayload int
	limiter    *rate.Limiter

	// started wakes Run once a connection request was sent.
	started chan struct{}

	// stopped is closed when the current connection ends.
	stopped chan struct{}
}

// NewHelper creates a Helper and its engine. The engine runs one client; its
// event handler is owned by the Helper.
func NewHelper(opts ...Option) *Helper {
	h := &Helper{started: make(chan struct{}, 1)}

	opts = append(opts, WithMaxClients(1), WithEventHandler(h.onEvent))
	h.engine = New(opts...)
	h.logger = h.engine.logger

	return h
}

// Engine returns the engine driven by the Helper.
func (h *Helper) Engine() *Engine {
	return h.engine
}

// Client returns the client of the Helper.
func (h *Helper) Client() *Client {
	return &h.client
}

// State returns the helper state.
func (h *Helper) State() HelperState {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// setState performs a transition from the table. Illegal transitions are
// logged and rejected.
func (h *Helper) setState(next HelperState) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.setStateLocked(next)
}

func (h *Helper) setStateLocked(next HelperState) bool {
	if h.state == next {
		return true
	}

	for _, allowed := range helperTransitions[h.state] {
		if allowed == next {
			h.logger.Debug("helper state transition", LogFields{
				"from": h.state.String(),
				"to":   next.String(),
			})
			h.state = next
			if next == HelperDisconnected && h.stopped != nil {
				close(h.stopped)
				h.stopped = nil
			}
			return true
		}
	}

	h.logger.Error("invalid helper state transition", LogFields{
		"from": h.state.String(),
		"to":   next.String(),
	})
	return false
}

// requireState checks the state without changing it.
func (h *Helper) requireState(want HelperState) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != want {
		h.logger.Error("helper in wrong state", LogFields{
			LogFieldState: h.state.String(),
			"required":    want.String(),
		})
		return fmt.Errorf("%w: %s, %s required", ErrWrongState, h.state, want)
	}
	return nil
}

// Init installs the callbacks and limits. It is valid before the first
// connection and after a disconnect.
func (h *Helper) Init(cb HelperCallbacks, cfg HelperConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != HelperUninit && h.state != HelperDisconnected {
		return fmt.Errorf("%w: %s", ErrWrongState, h.state)
	}

	h.cb = cb
	h.maxPayload = cfg.MaxPayload
	h.limiter = nil
	if cfg.PublishRate > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.PublishRate), max(cfg.PublishBurst, 1))
	}

	h.setStateLocked(HelperDisconnected)
	return nil
}

// Connect opens the transport and sends CONNECT. The outcome is reported
// through OnConnack; Run must be running to receive it.
func (h *Helper) Connect(ctx context.Context, params HelperConnParams) error {
	if err := h.requireState(HelperDisconnected); err != nil {
		return err
	}

	c := &h.client
	if err := h.engine.ClientInit(c); err != nil {
		return err
	}

	c.ClientID = params.ClientID
	c.Broker = params.Broker
	c.Transport = params.Transport
	c.Auth = params.Auth
	c.Will = params.Will

	if params.Setup != nil {
		if err := params.Setup(c); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.stopped = make(chan struct{})
	h.setStateLocked(HelperTransportConnecting)
	h.mu.Unlock()

	if err := h.engine.Connect(ctx, c); err != nil {
		h.logger.Error("connect failed", LogFields{LogFieldError: err.Error()})
		h.setState(HelperDisconnected)
		return err
	}

	h.setState(HelperTransportConnected)
	h.setState(HelperConnecting)

	select {
	case h.started <- struct{}{}:
	default:
	}

	return nil
}

// Subscribe sends SUBSCRIBE. The result arrives through OnSuback.
func (h *Helper) Subscribe(list *SubscriptionList) error {
	if err := h.requireState(HelperConnected); err != nil {
		return err
	}

	if list == nil {
		return ErrInvalidParam
	}

	for _, t := range list.Topics {
		if err := ValidateTopicFilter(t.Topic); err != nil {
			return fmt.Errorf("%w: %q", err, t.Topic)
		}
		h.logger.Debug("subscribing", LogFields{LogFieldTopic: t.Topic, LogFieldQoS: int(t.QoS)})
	}

	return h.engine.Subscribe(&h.client, list)
}

// Publish sends PUBLISH, waiting for the rate limiter when one is configured.
func (h *Helper) Publish(ctx context.Context, p *PublishParam) error {
	if err := h.requireState(HelperConnected); err != nil {
		return err
	}

	if p == nil {
		return ErrInvalidParam
	}
	if err := ValidateTopicName(p.Topic); err != nil {
		return fmt.Errorf("%w: %q", err, p.Topic)
	}

	h.mu.Lock()
	limiter := h.limiter
	h.mu.Unlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	h.logger.Debug("publishing", LogFields{LogFieldTopic: p.Topic})

	return h.engine.Publish(&h.client, p)
}

// Disconnect sends DISCONNECT and closes the connection. A failed DISCONNECT
// is treated as an ungraceful disconnect and reported through OnDisconnect.
func (h *Helper) Disconnect() error {
	if err := h.requireState(HelperConnected); err != nil {
		return err
	}

	h.setState(HelperDisconnecting)

	if err := h.engine.Disconnect(&h.client); err != nil {
		// A failed write already tore the client down; Abort covers
		// ErrBusy and is a no-op otherwise.
		_ = h.engine.Abort(&h.client)
		h.logger.Error("failed to send DISCONNECT, treating as disconnected", LogFields{
			LogFieldError: err.Error(),
		})
		if h.setStateChanged(HelperDisconnected) {
			h.notifyDisconnect(err)
		}
		return err
	}

	// Complete the teardown now instead of waiting for Run.
	if err := h.engine.Input(&h.client); err != nil && !errors.Is(err, ErrNotPermitted) {
		return err
	}

	return nil
}

// setStateChanged transitions and reports whether the state changed.
func (h *Helper) setStateChanged(next HelperState) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == next {
		return false
	}
	return h.setStateLocked(next)
}

// Deinit returns the Helper to HelperUninit. It requires HelperDisconnected.
func (h *Helper) Deinit() error {
	if err := h.requireState(HelperDisconnected); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.cb = HelperCallbacks{}
	h.limiter = nil
	h.maxPayload = 0
	h.setStateLocked(HelperUninit)

	return nil
}

// Run drives the connection: it waits for Connect, then feeds readable
// transport data to Engine.Input and calls Engine.Live whenever the
// keep-alive time runs out. It returns nil once the connection is closed and
// the context error when ctx is done, aborting the connection.
func (h *Helper) Run(ctx context.Context) error {
	select {
	case <-h.started:
	case <-ctx.Done():
		return ctx.Err()
	}

	c := &h.client

	var readable <-chan struct{}
	if rt, ok := c.Transport.(readableTransport); ok {
		readable = rt.Readable()
	}

	for {
		h.mu.Lock()
		st, stopped := h.state, h.stopped
		h.mu.Unlock()

		if st != HelperConnecting && st != HelperConnected {
			h.logger.Debug("disconnected, ending poll loop", nil)
			return nil
		}

		wait := h.engine.KeepAliveTimeLeft(c)
		if readable == nil {
			wait = min(wait, helperPollInterval)
		}

		if err := h.poll(ctx, c, readable, stopped, wait); err != nil {
			return err
		}
	}
}

// poll waits for readability, keep-alive expiry, the end of the connection or
// cancellation and handles it.
func (h *Helper) poll(ctx context.Context, c *Client, readable, stopped <-chan struct{}, wait time.Duration) error {
	var expired <-chan time.Time
	if wait != KeepAliveForever {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		_ = h.engine.Abort(c)
		return ctx.Err()

	case <-stopped:
		return nil

	case <-readable:
		return h.input(c)

	case <-expired:
		if readable == nil {
			if err := h.input(c); err != nil {
				return err
			}
		}
		if err := h.engine.Live(); err != nil {
			h.logger.Error("keep-alive ping failed", LogFields{LogFieldError: err.Error()})
			return err
		}
		return nil
	}
}

func (h *Helper) input(c *Client) error {
	err := h.engine.Input(c)
	if err == nil || errors.Is(err, ErrNotPermitted) {
		return nil
	}

	h.logger.Error("input error", LogFields{LogFieldError: err.Error()})
	_ = h.engine.Abort(c)
	return err
}

// onEvent is the engine event handler.
func (h *Helper) onEvent(c *Client, ev *Event) {
	h.mu.Lock()
	cb := h.cb
	maxPayload := h.maxPayload
	h.mu.Unlock()

	// Connection state follows the engine even when OnAllEvents consumes
	// the event.
	disconnected := false
	switch ev.Type {
	case EventConnack:
		if ev.Result == nil && ev.Connack.ReturnCode == ConnectionAccepted {
			h.setState(HelperConnected)
		} else {
			h.setState(HelperDisconnected)
		}
	case EventDisconnect:
		disconnected = h.setStateChanged(HelperDisconnected)
	}

	if cb.OnAllEvents != nil && !cb.OnAllEvents(c, ev) {
		return
	}

	switch ev.Type {
	case EventConnack:
		if cb.OnConnack != nil {
			cb.OnConnack(ev.Connack.ReturnCode, ev.Connack.SessionPresent)
		}

	case EventDisconnect:
		if disconnected {
			h.notifyDisconnect(ev.Result)
		}

	case EventPublish:
		h.onPublish(c, ev, cb, maxPayload)

	case EventPuback:
		if cb.OnPuback != nil {
			cb.OnPuback(ev.MessageID, ev.Result)
		}

	case EventSuback:
		result := ev.Result
		if result == nil && slices.Contains(ev.Suback.ReturnCodes, SubackFailure) {
			result = ErrSubscriptionRefused
		}
		if cb.OnSuback != nil {
			cb.OnSuback(ev.Suback.MessageID, result)
		}
	}
}

func (h *Helper) notifyDisconnect(result error) {
	h.mu.Lock()
	onDisconnect := h.cb.OnDisconnect
	h.mu.Unlock()

	if onDisconnect != nil {
		onDisconnect(result)
	}
}

func (h *Helper) onPublish(c *Client, ev *Event, cb HelperCallbacks, maxPayload int) {
	p := &ev.Publish

	if maxPayload > 0 && len(p.Payload) > maxPayload {
		h.logger.Error("incoming message too large for payload limit", LogFields{
			LogFieldTopic: p.Topic,
			LogFieldBytes: len(p.Payload),
		})
		if cb.OnError != nil {
			cb.OnError(HelperErrorMessageSize)
		}
		return
	}

	if p.QoS == QoS1 {
		if err := h.engine.PublishQoS1Ack(c, p.MessageID); err != nil {
			h.logger.Warn("failed to send PUBACK", LogFields{
				LogFieldPacketID: p.MessageID,
				LogFieldError:    err.Error(),
			})
		} else {
			h.logger.Debug("PUBACK sent", LogFields{LogFieldPacketID: p.MessageID})
		}
	}

	if cb.OnPublish != nil {
		cb.OnPublish(p.Topic, p.Payload)
	}
}
