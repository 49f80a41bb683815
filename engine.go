package mqttc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Engine drives the MQTT protocol for a fixed number of clients. It has no
// goroutines of its own: the application calls Input when a transport is
// readable and Live periodically.
//
// One mutex serializes the registry, the buffer pool and every client's
// buffers. Transport connects and writes run with the mutex released while
// the client is marked busy, and events are delivered with the mutex
// released. Event handlers may call back into the Engine.
type Engine struct {
	mu       sync.Mutex
	opts     *engineOptions
	registry Registry
	pool     *BlockPool
	logger   Logger
	metrics  *engineMetrics
}

// New creates an engine.
func New(opts ...Option) *Engine {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(o)
	}

	registry := o.registry
	if registry == nil {
		registry = NewSlotRegistry(o.maxClients)
	}

	return &Engine{
		opts:     o,
		registry: registry,
		pool:     NewBlockPool(o.maxPacketSize, 2*registry.Cap()),
		logger:   o.logger,
		metrics:  newEngineMetrics(o.metrics),
	}
}

// Init clears the registry and returns every buffer to the pool. Call it once
// at startup; clients initialized before Init must be initialized again.
func (e *Engine) Init() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.registry.Reset()
	e.pool.Reset()
}

// MaxPacketSize returns the largest packet a client can send or receive.
func (e *Engine) MaxPacketSize() int {
	return e.pool.BlockSize()
}

// KeepAlive returns the keep-alive interval.
func (e *Engine) KeepAlive() time.Duration {
	return time.Duration(e.opts.keepAlive) * time.Second
}

// ClientInit resets c to defaults (MQTT 3.1.1, clean session) and allocates
// its TX and RX buffers. It fails with ErrNoResources when the pool is
// exhausted; Connect retries the allocation.
func (e *Engine) ClientInit(c *Client) error {
	if c == nil {
		return ErrInvalidParam
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if c.state.hasTransport() || c.pendingWrite {
		return ErrAlreadyConnected
	}

	e.freeBuffers(c)
	*c = Client{
		ProtocolVersion: ProtocolV311,
		CleanSession:    true,
		slot:            -1,
		gen:             c.gen,
	}

	return e.allocBuffers(c)
}

func (e *Engine) allocBuffers(c *Client) error {
	if c.hasBuffers() {
		return nil
	}

	var err error
	if c.tx == nil {
		if c.tx, err = e.pool.Alloc(); err != nil {
			return fmt.Errorf("%w: %w", ErrNoResources, err)
		}
	}
	if c.rx == nil {
		if c.rx, err = e.pool.Alloc(); err != nil {
			e.freeBuffers(c)
			return fmt.Errorf("%w: %w", ErrNoResources, err)
		}
	}

	return nil
}

func (e *Engine) freeBuffers(c *Client) {
	e.pool.Free(c.tx)
	e.pool.Free(c.rx)
	c.tx, c.rx = nil, nil
	c.rxLen = 0
}

// Connect opens the transport of c and sends CONNECT. The context is handed
// to Transport.Connect. A nil return means CONNECT was written; the outcome
// arrives as an EventConnack. Transport failures tear the client down and
// raise an EventConnack with a result wrapping ErrConnectionRefused.
func (e *Engine) Connect(ctx context.Context, c *Client) error {
	if c == nil {
		return ErrInvalidParam
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case c.ClientID == "":
		return ErrEmptyClientID
	case c.Transport == nil:
		return fmt.Errorf("%w: client has no transport", ErrInvalidParam)
	case c.ProtocolVersion != ProtocolV31 && c.ProtocolVersion != ProtocolV311:
		return fmt.Errorf("%w: unsupported protocol version %d", ErrInvalidParam, c.ProtocolVersion)
	case c.pendingWrite:
		return ErrBusy
	case c.state != StateIdle:
		return ErrAlreadyConnected
	}

	if err := e.allocBuffers(c); err != nil {
		return err
	}

	pkt, err := encodeConnect(c, c.tx, e.opts.keepAlive)
	if err != nil {
		return encodeError(PacketCONNECT, err)
	}

	slot, err := e.registry.Acquire(c)
	if err != nil {
		e.freeBuffers(c)
		e.logger.Warn("registry full", LogFields{LogFieldClientID: c.ClientID})
		return err
	}

	c.slot = slot
	c.gen++
	c.rxLen = 0
	c.pingOutstanding = false
	e.metrics.clientAcquired()

	log := e.logger.WithFields(LogFields{LogFieldClientID: c.ClientID, LogFieldBroker: c.Broker})
	log.Debug("connecting transport", nil)

	// The client stays idle while the transport connects; pendingWrite keeps
	// other callers off it.
	c.pendingWrite = true
	transport := c.Transport
	e.mu.Unlock()
	err = transport.Connect(ctx, c.Broker)
	e.mu.Lock()
	c.pendingWrite = false

	if err != nil {
		err = transportError("connect", err)
		log.Warn("transport connect failed", LogFields{LogFieldError: err.Error()})
		e.teardown(c, err, reasonTransport)
		return err
	}

	c.state = StateTCPConnected

	if err := e.write(c, pkt, PacketCONNECT); err != nil {
		e.teardown(c, err, reasonTransport)
		return err
	}

	log.Info("CONNECT sent", LogFields{LogFieldBytes: len(pkt)})

	return nil
}

// Publish sends PUBLISH. MessageID is required for QoS 1 and 2.
func (e *Engine) Publish(c *Client, p *PublishParam) error {
	if c == nil || p == nil {
		return ErrInvalidParam
	}

	return e.send(c, PacketPUBLISH, func(tx []byte) ([]byte, error) {
		return encodePublish(p, tx)
	})
}

// PublishQoS1Ack acknowledges an inbound QoS 1 PUBLISH with PUBACK.
func (e *Engine) PublishQoS1Ack(c *Client, messageID uint16) error {
	return e.sendMessageID(c, PacketPUBACK, messageID, encodePuback)
}

// PublishQoS2Receive answers an inbound QoS 2 PUBLISH with PUBREC.
func (e *Engine) PublishQoS2Receive(c *Client, messageID uint16) error {
	return e.sendMessageID(c, PacketPUBREC, messageID, encodePubrec)
}

// PublishQoS2Release answers PUBREC for an outbound QoS 2 PUBLISH with
// PUBREL.
func (e *Engine) PublishQoS2Release(c *Client, messageID uint16) error {
	return e.sendMessageID(c, PacketPUBREL, messageID, encodePubrel)
}

// PublishQoS2Complete answers an inbound PUBREL with PUBCOMP.
func (e *Engine) PublishQoS2Complete(c *Client, messageID uint16) error {
	return e.sendMessageID(c, PacketPUBCOMP, messageID, encodePubcomp)
}

// Subscribe sends one SUBSCRIBE carrying every topic of list.
func (e *Engine) Subscribe(c *Client, list *SubscriptionList) error {
	if c == nil || list == nil {
		return ErrInvalidParam
	}

	return e.send(c, PacketSUBSCRIBE, func(tx []byte) ([]byte, error) {
		return encodeSubscribe(list, tx)
	})
}

// Unsubscribe sends one UNSUBSCRIBE carrying every topic of list. The QoS of
// the topics is ignored.
func (e *Engine) Unsubscribe(c *Client, list *SubscriptionList) error {
	if c == nil || list == nil {
		return ErrInvalidParam
	}

	return e.send(c, PacketUNSUBSCRIBE, func(tx []byte) ([]byte, error) {
		return encodeUnsubscribe(list, tx)
	})
}

// Ping sends PINGREQ.
func (e *Engine) Ping(c *Client) error {
	if c == nil {
		return ErrInvalidParam
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ping(c)
}

// ping writes PINGREQ. The caller holds e.mu.
func (e *Engine) ping(c *Client) error {
	if err := e.checkWritable(c); err != nil {
		return err
	}

	if err := e.write(c, pingreqPacket, PacketPINGREQ); err != nil {
		e.teardown(c, err, reasonTransport)
		return err
	}

	c.pingOutstanding = true
	return nil
}

// Disconnect sends DISCONNECT. The client is torn down by the next Input or
// Live call, which raises an EventDisconnect with a nil result.
func (e *Engine) Disconnect(c *Client) error {
	if c == nil {
		return ErrInvalidParam
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case !c.active():
		return ErrNotConnected
	case c.pendingWrite:
		return ErrBusy
	}

	if err := e.write(c, disconnectPacket, PacketDISCONNECT); err != nil {
		e.teardown(c, err, reasonTransport)
		return err
	}

	c.state = StateDisconnecting
	e.logger.Info("DISCONNECT sent", LogFields{LogFieldClientID: c.ClientID})

	return nil
}

// Abort closes the transport of c without sending DISCONNECT and tears the
// client down. The raised event carries ErrConnectionAborted. Aborting an
// idle client does nothing.
func (e *Engine) Abort(c *Client) error {
	if c == nil {
		return ErrInvalidParam
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !c.active() {
		return nil
	}

	e.teardown(c, ErrConnectionAborted, reasonAbort)
	return nil
}

// State returns the connection state of c.
func (e *Engine) State(c *Client) ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return c.state
}

// BufferedLen returns the number of received bytes of c waiting for the rest
// of their packet.
func (e *Engine) BufferedLen(c *Client) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return c.rxLen
}

// ActiveClients returns the number of clients holding a registry slot.
func (e *Engine) ActiveClients() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.registry.Len()
}

// checkWritable validates that a packet can be sent on c. The caller holds
// e.mu.
func (e *Engine) checkWritable(c *Client) error {
	switch {
	case c.state != StateConnected || c.closing:
		return ErrNotConnected
	case c.pendingWrite:
		return ErrBusy
	case !c.hasBuffers():
		return ErrNoResources
	}
	return nil
}

// send encodes a packet into the TX block of c and writes it.
func (e *Engine) send(c *Client, t PacketType, encode func(tx []byte) ([]byte, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkWritable(c); err != nil {
		return err
	}

	pkt, err := encode(c.tx)
	if err != nil {
		return encodeError(t, err)
	}

	if err := e.write(c, pkt, t); err != nil {
		e.teardown(c, err, reasonTransport)
		return err
	}

	return nil
}

func (e *Engine) sendMessageID(c *Client, t PacketType, messageID uint16, encode func(uint16, []byte) ([]byte, error)) error {
	if c == nil {
		return ErrInvalidParam
	}

	return e.send(c, t, func(tx []byte) ([]byte, error) {
		return encode(messageID, tx)
	})
}

// write hands pkt to the transport with e.mu released. The caller holds e.mu
// and must tear the client down when write fails.
func (e *Engine) write(c *Client, pkt []byte, t PacketType) error {
	c.pendingWrite = true
	transport := c.Transport
	start := e.opts.now()

	e.mu.Unlock()
	err := transport.Write(pkt)
	e.mu.Lock()

	c.pendingWrite = false

	if c.closing {
		return ErrNotConnected
	}
	if err != nil {
		e.logger.Warn("write failed", LogFields{
			LogFieldClientID:   c.ClientID,
			LogFieldPacketType: t.String(),
			LogFieldError:      err.Error(),
		})
		return transportError("write", err)
	}

	c.lastActivity = e.opts.now()
	e.metrics.packetSent(t, len(pkt), c.lastActivity.Sub(start))
	e.logger.Debug("packet sent", LogFields{
		LogFieldClientID:   c.ClientID,
		LogFieldPacketType: t.String(),
		LogFieldBytes:      len(pkt),
	})

	return nil
}

// teardown is the single exit path of a connection. It closes the transport,
// returns the buffers and the registry slot, resets the client to StateIdle
// and raises exactly one event. The caller holds e.mu.
//
// While a write is in flight only the transport is closed; the writer
// finishes the teardown with the first reason once it regains the lock.
func (e *Engine) teardown(c *Client, reason error, label string) {
	if !c.closing {
		c.closing = true
		c.closeReason = reason
		c.closeLabel = label

		if c.state.hasTransport() {
			if err := c.Transport.Disconnect(); err != nil {
				e.logger.Debug("transport disconnect failed", LogFields{
					LogFieldClientID: c.ClientID,
					LogFieldError:    err.Error(),
				})
			}
		}
	}

	if c.pendingWrite {
		return
	}

	ev := closeEvent(c.state, c.closeReason)

	e.registry.Release(c)
	e.freeBuffers(c)
	e.metrics.clientReleased(c.closeLabel)

	fields := LogFields{
		LogFieldClientID: c.ClientID,
		LogFieldState:    c.state.String(),
	}
	if c.closeReason != nil {
		fields[LogFieldError] = c.closeReason.Error()
		e.logger.Warn("connection closed", fields)
	} else {
		e.logger.Info("connection closed", fields)
	}

	c.state = StateIdle
	c.slot = -1
	c.pingOutstanding = false
	c.closing = false
	c.closeReason = nil
	c.closeLabel = ""

	e.raise(c, ev)
}

// closeEvent builds the event for a connection leaving state with reason. A
// failure before CONNACK is reported as a refused CONNACK.
func closeEvent(state ConnState, reason error) *Event {
	if reason == nil || (state != StateIdle && state != StateTCPConnected) {
		return &Event{Type: EventDisconnect, Result: reason}
	}

	ev := &Event{Type: EventConnack, Result: reason}

	var ce *ConnectError
	if errors.As(reason, &ce) {
		ev.Connack.ReturnCode = ce.ReturnCode
	} else {
		ev.Connack.ReturnCode = ServerUnavailable
	}

	if !errors.Is(reason, ErrConnectionRefused) {
		ev.Result = fmt.Errorf("%w: %w", ErrConnectionRefused, reason)
	}

	return ev
}

// raise delivers ev with e.mu released. The caller holds e.mu and must
// recheck the client afterwards.
func (e *Engine) raise(c *Client, ev *Event) {
	handler := e.opts.onEvent
	if handler == nil {
		return
	}

	e.mu.Unlock()
	defer e.mu.Lock()

	handler(c, ev)
}

func encodeError(t PacketType, err error) error {
	if errors.Is(err, ErrBufferOverflow) {
		return fmt.Errorf("%w: %s: %w", ErrPacketTooLarge, t, err)
	}
	return err
}
