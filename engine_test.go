package mqttc

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a scripted Transport. Each Read returns the next queued
// chunk, limited by the size of the read buffer.
type fakeTransport struct {
	mu          sync.Mutex
	connectErr  error
	writeErr    error
	readErr     error
	eof         bool
	inbound     [][]byte
	written     [][]byte
	brokers     []string
	connected   bool
	disconnects int

	// When block is set, Write signals writing and waits until Disconnect
	// or unblock releases it.
	block     bool
	writing   chan struct{}
	release   chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		writing: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(_ context.Context, broker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.brokers = append(f.brokers, broker)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Write(p []byte) error {
	f.mu.Lock()
	f.written = append(f.written, append([]byte(nil), p...))
	block := f.block
	err := f.writeErr
	f.mu.Unlock()

	if block {
		f.writing <- struct{}{}
		<-f.release
		return io.ErrClosedPipe
	}
	return err
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.inbound) > 0 {
		chunk := f.inbound[0]
		n := copy(p, chunk)
		if n < len(chunk) {
			f.inbound[0] = chunk[n:]
		} else {
			f.inbound = f.inbound[1:]
		}
		return n, nil
	}

	switch {
	case f.readErr != nil:
		return 0, f.readErr
	case f.eof:
		return 0, nil
	default:
		return 0, ErrWouldBlock
	}
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()

	f.unblock()
	return nil
}

func (f *fakeTransport) unblock() {
	f.closeOnce.Do(func() { close(f.release) })
}

func (f *fakeTransport) feed(chunks ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range chunks {
		f.inbound = append(f.inbound, append([]byte(nil), c...))
	}
}

func (f *fakeTransport) writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]byte(nil), f.written...)
}

func (f *fakeTransport) lastWrite() []byte {
	w := f.writes()
	if len(w) == 0 {
		return nil
	}
	return w[len(w)-1]
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.disconnects
}

// recorder collects events and optionally reacts to them.
type recorder struct {
	mu     sync.Mutex
	events []*Event
	hook   func(c *Client, ev *Event)
}

func (r *recorder) handle(c *Client, ev *Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(c, ev)
	}
}

func (r *recorder) all() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*Event(nil), r.events...)
}

func (r *recorder) types() []EventType {
	var types []EventType
	for _, ev := range r.all() {
		types = append(types, ev.Type)
	}
	return types
}

func (r *recorder) last() *Event {
	events := r.all()
	if len(events) == 0 {
		return nil
	}
	return events[len(events)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

var connackAccepted = []byte{0x20, 0x02, 0x00, 0x00}

func ackPacket(t PacketType, id uint16) []byte {
	first := byte(t) << 4
	if t == PacketPUBREL {
		first |= 0x02
	}
	return []byte{first, 0x02, byte(id >> 8), byte(id)}
}

func publishPacket(t *testing.T, p PublishParam) []byte {
	t.Helper()

	pkt, err := encodePublish(&p, make([]byte, 512))
	require.NoError(t, err)
	return append([]byte(nil), pkt...)
}

func newTestEngine(opts ...Option) (*Engine, *recorder) {
	rec := &recorder{}
	opts = append([]Option{WithEventHandler(rec.handle)}, opts...)
	e := New(opts...)
	e.Init()
	return e, rec
}

// startClient initializes a client on tr and sends CONNECT.
func startClient(t *testing.T, e *Engine, tr Transport, id string) *Client {
	t.Helper()

	c := &Client{}
	require.NoError(t, e.ClientInit(c))
	c.ClientID = id
	c.Broker = "tcp://broker:1883"
	c.Transport = tr

	require.NoError(t, e.Connect(context.Background(), c))
	require.Equal(t, StateTCPConnected, e.State(c))
	return c
}

// connectClient brings a client to StateConnected.
func connectClient(t *testing.T, e *Engine, tr *fakeTransport, id string) *Client {
	t.Helper()

	c := startClient(t, e, tr, id)
	tr.feed(connackAccepted)
	require.NoError(t, e.Input(c))
	require.Equal(t, StateConnected, e.State(c))
	return c
}

func TestEngineConnect(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()

	c := startClient(t, e, tr, "dev-1")

	want := []byte{
		0x10, 0x11, 0x00, 0x04, 0x4D, 0x51, 0x54, 0x54, 0x04, 0x02,
		0x00, 0x00, 0x00, 0x05, 0x64, 0x65, 0x76, 0x2D, 0x31,
	}
	assert.Equal(t, [][]byte{want}, tr.writes())
	assert.Equal(t, []string{"tcp://broker:1883"}, tr.brokers)
	assert.Equal(t, 1, e.ActiveClients())
	assert.Empty(t, rec.all())

	tr.feed(connackAccepted)
	require.NoError(t, e.Input(c))

	assert.Equal(t, StateConnected, e.State(c))
	require.Len(t, rec.all(), 1)
	ev := rec.last()
	assert.Equal(t, EventConnack, ev.Type)
	assert.NoError(t, ev.Result)
	assert.Equal(t, ConnectionAccepted, ev.Connack.ReturnCode)
}

func TestEngineConnectKeepAliveInConnect(t *testing.T) {
	e, _ := newTestEngine(WithKeepAlive(60))
	tr := newFakeTransport()

	startClient(t, e, tr, "dev-1")

	pkt := tr.lastWrite()
	assert.Equal(t, []byte{0x00, 0x3C}, pkt[10:12])
}

func TestEngineGuards(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()

	c := &Client{}
	require.NoError(t, e.ClientInit(c))
	assert.Equal(t, ProtocolV311, c.ProtocolVersion)
	assert.True(t, c.CleanSession)
	c.Transport = tr

	t.Run("nil arguments", func(t *testing.T) {
		assert.ErrorIs(t, e.ClientInit(nil), ErrInvalidParam)
		assert.ErrorIs(t, e.Connect(context.Background(), nil), ErrInvalidParam)
		assert.ErrorIs(t, e.Publish(c, nil), ErrInvalidParam)
		assert.ErrorIs(t, e.Publish(nil, &PublishParam{}), ErrInvalidParam)
		assert.ErrorIs(t, e.Subscribe(c, nil), ErrInvalidParam)
		assert.ErrorIs(t, e.Unsubscribe(c, nil), ErrInvalidParam)
		assert.ErrorIs(t, e.PublishQoS1Ack(nil, 1), ErrInvalidParam)
		assert.ErrorIs(t, e.Ping(nil), ErrInvalidParam)
		assert.ErrorIs(t, e.Disconnect(nil), ErrInvalidParam)
		assert.ErrorIs(t, e.Abort(nil), ErrInvalidParam)
		assert.ErrorIs(t, e.Input(nil), ErrInvalidParam)
	})

	t.Run("empty client id", func(t *testing.T) {
		assert.ErrorIs(t, e.Connect(context.Background(), c), ErrEmptyClientID)
	})

	t.Run("missing transport", func(t *testing.T) {
		other := &Client{ClientID: "x"}
		assert.ErrorIs(t, e.Connect(context.Background(), other), ErrInvalidParam)
	})

	t.Run("unsupported protocol version", func(t *testing.T) {
		c.ClientID = "dev-1"
		defer func() {
			c.ClientID = ""
			c.ProtocolVersion = ProtocolV311
		}()

		c.ProtocolVersion = 5
		assert.ErrorIs(t, e.Connect(context.Background(), c), ErrInvalidParam)
		c.ProtocolVersion = 0
		assert.ErrorIs(t, e.Connect(context.Background(), c), ErrInvalidParam)
		assert.Empty(t, tr.writes())
		assert.Equal(t, StateIdle, e.State(c))
	})

	t.Run("invalid will qos", func(t *testing.T) {
		c.ClientID = "dev-1"
		c.Will = &Will{Topic: "status", QoS: 3}
		defer func() {
			c.ClientID = ""
			c.Will = nil
		}()

		assert.ErrorIs(t, e.Connect(context.Background(), c), ErrInvalidQoS)
		assert.Empty(t, tr.writes())
		assert.Empty(t, tr.brokers)
		assert.Equal(t, StateIdle, e.State(c))
	})

	t.Run("operations before connect", func(t *testing.T) {
		p := &PublishParam{Message: Message{Topic: "t"}}
		list := &SubscriptionList{MessageID: 1, Topics: []TopicQoS{{Topic: "t"}}}

		assert.ErrorIs(t, e.Publish(c, p), ErrNotConnected)
		assert.ErrorIs(t, e.Subscribe(c, list), ErrNotConnected)
		assert.ErrorIs(t, e.Unsubscribe(c, list), ErrNotConnected)
		assert.ErrorIs(t, e.PublishQoS1Ack(c, 1), ErrNotConnected)
		assert.ErrorIs(t, e.PublishQoS2Receive(c, 1), ErrNotConnected)
		assert.ErrorIs(t, e.PublishQoS2Release(c, 1), ErrNotConnected)
		assert.ErrorIs(t, e.PublishQoS2Complete(c, 1), ErrNotConnected)
		assert.ErrorIs(t, e.Ping(c), ErrNotConnected)
		assert.ErrorIs(t, e.Disconnect(c), ErrNotConnected)
		assert.ErrorIs(t, e.Input(c), ErrNotPermitted)
		assert.NoError(t, e.Abort(c))
	})

	assert.Empty(t, tr.writes())
	assert.Empty(t, rec.all())
	assert.Equal(t, 0, e.ActiveClients())
}

func TestEngineOperationsBeforeConnack(t *testing.T) {
	e, _ := newTestEngine()
	tr := newFakeTransport()
	c := startClient(t, e, tr, "dev-1")

	err := e.Publish(c, &PublishParam{Message: Message{Topic: "t"}})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Len(t, tr.writes(), 1)
}

func TestEngineConnectTwice(t *testing.T) {
	e, _ := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	assert.ErrorIs(t, e.Connect(context.Background(), c), ErrAlreadyConnected)
	assert.ErrorIs(t, e.ClientInit(c), ErrAlreadyConnected)
	assert.Len(t, tr.writes(), 1)
}

func TestEngineClientInitPoolExhausted(t *testing.T) {
	e, _ := newTestEngine(WithMaxClients(1))

	require.NoError(t, e.ClientInit(&Client{}))
	assert.ErrorIs(t, e.ClientInit(&Client{}), ErrNoResources)

	e.Init()
	assert.NoError(t, e.ClientInit(&Client{}))
}

// limitedRegistry refuses clients beyond limit while keeping a larger
// capacity, so the pool has buffers for more clients than may connect.
type limitedRegistry struct {
	*SlotRegistry
	limit int
}

func (r *limitedRegistry) Acquire(c *Client) (int, error) {
	if r.Len() >= r.limit {
		return -1, ErrNoResources
	}
	return r.SlotRegistry.Acquire(c)
}

func TestEngineRegistryFull(t *testing.T) {
	e, rec := newTestEngine(WithRegistry(&limitedRegistry{SlotRegistry: NewSlotRegistry(2), limit: 1}))

	first := newFakeTransport()
	connectClient(t, e, first, "first")

	second := newFakeTransport()
	c := &Client{}
	require.NoError(t, e.ClientInit(c))
	c.ClientID = "second"
	c.Transport = second

	err := e.Connect(context.Background(), c)
	assert.ErrorIs(t, err, ErrNoResources)
	assert.Empty(t, second.writes())
	assert.Empty(t, second.brokers)
	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, 1, e.ActiveClients())
	assert.Len(t, rec.all(), 1)
}

func TestEngineConnectTransportFailure(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	tr.connectErr = errors.New("connection refused by host")

	c := &Client{}
	require.NoError(t, e.ClientInit(c))
	c.ClientID = "dev-1"
	c.Transport = tr

	err := e.Connect(context.Background(), c)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)

	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, 0, e.ActiveClients())
	assert.Empty(t, tr.writes())

	require.Len(t, rec.all(), 1)
	ev := rec.last()
	assert.Equal(t, EventConnack, ev.Type)
	assert.Equal(t, ServerUnavailable, ev.Connack.ReturnCode)
	assert.ErrorIs(t, ev.Result, ErrConnectionRefused)
	assert.ErrorIs(t, ev.Result, ErrTransport)

	// The client can retry once the broker is reachable.
	tr.connectErr = nil
	require.NoError(t, e.Connect(context.Background(), c))
	assert.Equal(t, StateTCPConnected, e.State(c))
}

func TestEngineConnectWriteFailure(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	tr.writeErr = io.ErrClosedPipe

	c := &Client{}
	require.NoError(t, e.ClientInit(c))
	c.ClientID = "dev-1"
	c.Transport = tr

	err := e.Connect(context.Background(), c)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, 1, tr.disconnectCount())

	ev := rec.last()
	require.NotNil(t, ev)
	assert.Equal(t, EventConnack, ev.Type)
	assert.ErrorIs(t, ev.Result, ErrConnectionRefused)
}

func TestEngineConnectPacketTooLarge(t *testing.T) {
	e, rec := newTestEngine(WithMaxPacketSize(MinPacketSize))
	tr := newFakeTransport()

	c := &Client{}
	require.NoError(t, e.ClientInit(c))
	c.ClientID = "a-client-id-that-does-not-fit-into-the-block"
	c.Transport = tr

	err := e.Connect(context.Background(), c)
	assert.ErrorIs(t, err, ErrPacketTooLarge)
	assert.Empty(t, tr.brokers)
	assert.Empty(t, rec.all())
	assert.Equal(t, 0, e.ActiveClients())
}

func TestEngineRefusedConnack(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := startClient(t, e, tr, "dev-1")

	tr.feed([]byte{0x20, 0x02, 0x00, 0x05})
	require.NoError(t, e.Input(c))

	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, 1, tr.disconnectCount())
	assert.Equal(t, 0, e.ActiveClients())

	require.Len(t, rec.all(), 1)
	ev := rec.last()
	assert.Equal(t, EventConnack, ev.Type)
	assert.Equal(t, NotAuthorized, ev.Connack.ReturnCode)
	assert.ErrorIs(t, ev.Result, ErrConnectionRefused)

	var ce *ConnectError
	require.ErrorAs(t, ev.Result, &ce)
	assert.Equal(t, NotAuthorized, ce.ReturnCode)
}

func TestEngineSessionPresent(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := startClient(t, e, tr, "dev-1")

	tr.feed([]byte{0x20, 0x02, 0x01, 0x00})
	require.NoError(t, e.Input(c))

	assert.True(t, rec.last().Connack.SessionPresent)
}

func TestEnginePacketBeforeConnack(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := startClient(t, e, tr, "dev-1")

	tr.feed(ackPacket(PacketPUBACK, 1))
	err := e.Input(c)
	assert.ErrorIs(t, err, ErrMalformedPacket)

	assert.Equal(t, StateIdle, e.State(c))
	require.Len(t, rec.all(), 1)
	ev := rec.last()
	assert.Equal(t, EventConnack, ev.Type)
	assert.ErrorIs(t, ev.Result, ErrConnectionRefused)
	assert.ErrorIs(t, ev.Result, ErrMalformedPacket)
}

func TestEngineDuplicateConnack(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	tr.feed(connackAccepted)
	assert.ErrorIs(t, e.Input(c), ErrMalformedPacket)

	assert.Equal(t, StateIdle, e.State(c))
	ev := rec.last()
	assert.Equal(t, EventDisconnect, ev.Type)
	assert.ErrorIs(t, ev.Result, ErrMalformedPacket)
}

func TestEnginePublish(t *testing.T) {
	e, _ := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	err := e.Publish(c, &PublishParam{
		Message:   Message{Topic: "a/b", Payload: []byte("hi"), QoS: QoS1},
		MessageID: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x32, 0x09, 0x00, 0x03, 'a', '/', 'b', 0x00, 0x01, 'h', 'i'}, tr.lastWrite())

	t.Run("parameter errors keep the connection", func(t *testing.T) {
		err := e.Publish(c, &PublishParam{Message: Message{Topic: "t", QoS: QoS1}})
		assert.ErrorIs(t, err, ErrMissingMessageID)

		err = e.Publish(c, &PublishParam{Message: Message{Topic: "t", Payload: make([]byte, 200)}})
		assert.ErrorIs(t, err, ErrPacketTooLarge)

		assert.Equal(t, StateConnected, e.State(c))
		assert.Len(t, tr.writes(), 2)
	})
}

func TestEngineSubscribeUnsubscribe(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	list := &SubscriptionList{MessageID: 3, Topics: []TopicQoS{{Topic: "a/#", QoS: QoS1}}}

	require.NoError(t, e.Subscribe(c, list))
	assert.Equal(t, []byte{0x82, 0x08, 0x00, 0x03, 0x00, 0x03, 'a', '/', '#', 0x01}, tr.lastWrite())

	tr.feed([]byte{0x90, 0x03, 0x00, 0x03, 0x01})
	require.NoError(t, e.Input(c))
	ev := rec.last()
	assert.Equal(t, EventSuback, ev.Type)
	assert.Equal(t, SubackParam{MessageID: 3, ReturnCodes: []byte{0x01}}, ev.Suback)

	list.MessageID = 4
	require.NoError(t, e.Unsubscribe(c, list))
	assert.Equal(t, []byte{0xA2, 0x07, 0x00, 0x04, 0x00, 0x03, 'a', '/', '#'}, tr.lastWrite())

	tr.feed(ackPacket(PacketUNSUBACK, 4))
	require.NoError(t, e.Input(c))
	assert.Equal(t, &Event{Type: EventUnsuback, MessageID: 4}, rec.last())
}

func TestEngineQoS2Outbound(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")
	rec.reset()

	require.NoError(t, e.Publish(c, &PublishParam{
		Message:   Message{Topic: "t", Payload: []byte("x"), QoS: QoS2},
		MessageID: 5,
	}))

	tr.feed(ackPacket(PacketPUBREC, 5))
	require.NoError(t, e.Input(c))
	assert.Equal(t, &Event{Type: EventPubrec, MessageID: 5}, rec.last())

	require.NoError(t, e.PublishQoS2Release(c, 5))
	assert.Equal(t, []byte{0x62, 0x02, 0x00, 0x05}, tr.lastWrite())

	tr.feed(ackPacket(PacketPUBCOMP, 5))
	require.NoError(t, e.Input(c))
	assert.Equal(t, &Event{Type: EventPubcomp, MessageID: 5}, rec.last())

	assert.Equal(t, []EventType{EventPubrec, EventPubcomp}, rec.types())
}

func TestEngineQoS2Inbound(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")
	rec.reset()

	tr.feed(publishPacket(t, PublishParam{
		Message:   Message{Topic: "in", Payload: []byte("data"), QoS: QoS2},
		MessageID: 9,
	}))
	require.NoError(t, e.Input(c))

	ev := rec.last()
	require.Equal(t, EventPublish, ev.Type)
	assert.Equal(t, "in", ev.Publish.Topic)
	assert.Equal(t, QoS2, ev.Publish.QoS)
	assert.Equal(t, uint16(9), ev.Publish.MessageID)

	require.NoError(t, e.PublishQoS2Receive(c, 9))
	assert.Equal(t, []byte{0x50, 0x02, 0x00, 0x09}, tr.lastWrite())

	tr.feed(ackPacket(PacketPUBREL, 9))
	require.NoError(t, e.Input(c))
	assert.Equal(t, &Event{Type: EventPubrel, MessageID: 9}, rec.last())

	require.NoError(t, e.PublishQoS2Complete(c, 9))
	assert.Equal(t, []byte{0x70, 0x02, 0x00, 0x09}, tr.lastWrite())
}

func TestEngineHandlerAcknowledgesQoS1(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	rec.hook = func(c *Client, ev *Event) {
		if ev.Type == EventPublish && ev.Publish.QoS == QoS1 {
			assert.NoError(t, e.PublishQoS1Ack(c, ev.Publish.MessageID))
		}
	}

	tr.feed(publishPacket(t, PublishParam{
		Message:   Message{Topic: "t", QoS: QoS1},
		MessageID: 0x0102,
	}))
	require.NoError(t, e.Input(c))

	assert.Equal(t, []byte{0x40, 0x02, 0x01, 0x02}, tr.lastWrite())
}

func TestEngineInputEveryByte(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := startClient(t, e, tr, "dev-1")

	var stream []byte
	stream = append(stream, connackAccepted...)
	stream = append(stream, publishPacket(t, PublishParam{Message: Message{Topic: "a/b", Payload: []byte("payload")}})...)
	stream = append(stream, ackPacket(PacketPUBACK, 7)...)

	for _, b := range stream {
		tr.feed([]byte{b})
		require.NoError(t, e.Input(c))
	}

	assert.Equal(t, []EventType{EventConnack, EventPublish, EventPuback}, rec.types())
	assert.Equal(t, []byte("payload"), rec.all()[1].Publish.Payload)
	assert.Equal(t, 0, e.BufferedLen(c))
}

func TestEngineInputEverySplitPoint(t *testing.T) {
	pub := PublishParam{Message: Message{Topic: "s/t", Payload: []byte("hello world"), QoS: QoS1}, MessageID: 2}

	var stream []byte
	stream = append(stream, connackAccepted...)
	stream = append(stream, publishPacket(t, pub)...)
	stream = append(stream, ackPacket(PacketPUBACK, 1)...)

	for i := 1; i < len(stream); i++ {
		e, rec := newTestEngine()
		tr := newFakeTransport()
		c := startClient(t, e, tr, "dev-1")

		tr.feed(stream[:i])
		require.NoError(t, e.Input(c))
		tr.feed(stream[i:])
		require.NoError(t, e.Input(c))

		require.Equal(t, []EventType{EventConnack, EventPublish, EventPuback}, rec.types(), "split at %d", i)
		assert.Equal(t, pub, rec.all()[1].Publish, "split at %d", i)
		assert.Equal(t, 0, e.BufferedLen(c), "split at %d", i)
	}
}

func TestEngineInputRetainsPartialPacket(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")
	rec.reset()

	pub := publishPacket(t, PublishParam{Message: Message{Topic: "a/b", Payload: []byte("0123456789abc")}})
	require.Len(t, pub, 20)

	var chunk []byte
	chunk = append(chunk, ackPacket(PacketPUBACK, 1)...)
	chunk = append(chunk, ackPacket(PacketPUBACK, 2)...)
	chunk = append(chunk, pub[:3]...)

	tr.feed(chunk)
	require.NoError(t, e.Input(c))
	assert.Equal(t, []EventType{EventPuback, EventPuback}, rec.types())
	assert.Equal(t, 3, e.BufferedLen(c))

	tr.feed(pub[3:])
	require.NoError(t, e.Input(c))
	assert.Equal(t, []EventType{EventPuback, EventPuback, EventPublish}, rec.types())
	assert.Equal(t, 0, e.BufferedLen(c))
	assert.Equal(t, []byte("0123456789abc"), rec.last().Publish.Payload)
}

func TestEngineInputPacketTooLarge(t *testing.T) {
	e, rec := newTestEngine(WithMaxPacketSize(32))
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	tr.feed([]byte{0x30, 0x64})
	err := e.Input(c)
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, 1, tr.disconnectCount())
	assert.Equal(t, 0, e.ActiveClients())

	ev := rec.last()
	assert.Equal(t, EventDisconnect, ev.Type)
	assert.ErrorIs(t, ev.Result, ErrPacketTooLarge)
}

func TestEngineInputMalformedRemainingLength(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	tr.feed([]byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	assert.ErrorIs(t, e.Input(c), ErrMalformedPacket)
	assert.ErrorIs(t, rec.last().Result, ErrMalformedPacket)
}

func TestEngineInputWouldBlock(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	assert.NoError(t, e.Input(c))
	assert.Equal(t, StateConnected, e.State(c))
	assert.Len(t, rec.all(), 1)
}

func TestEngineRemoteClose(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	tr.eof = true
	require.NoError(t, e.Input(c))

	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, 1, tr.disconnectCount())
	ev := rec.last()
	assert.Equal(t, EventDisconnect, ev.Type)
	assert.NoError(t, ev.Result)
	assert.ErrorIs(t, e.Input(c), ErrNotPermitted)
}

func TestEngineReadError(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	tr.readErr = io.ErrUnexpectedEOF
	err := e.Input(c)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	ev := rec.last()
	assert.Equal(t, EventDisconnect, ev.Type)
	assert.ErrorIs(t, ev.Result, ErrTransport)
	assert.Equal(t, StateIdle, e.State(c))
}

func TestEngineWriteError(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	tr.writeErr = io.ErrClosedPipe
	err := e.Publish(c, &PublishParam{Message: Message{Topic: "t"}})
	assert.ErrorIs(t, err, ErrTransport)

	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, 1, tr.disconnectCount())
	ev := rec.last()
	assert.Equal(t, EventDisconnect, ev.Type)
	assert.ErrorIs(t, ev.Result, io.ErrClosedPipe)
}

func TestEngineDisconnect(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	require.NoError(t, e.Disconnect(c))
	assert.Equal(t, []byte{0xE0, 0x00}, tr.lastWrite())
	assert.Equal(t, StateDisconnecting, e.State(c))
	assert.Equal(t, 0, tr.disconnectCount())

	assert.ErrorIs(t, e.Publish(c, &PublishParam{Message: Message{Topic: "t"}}), ErrNotConnected)
	assert.ErrorIs(t, e.Connect(context.Background(), c), ErrAlreadyConnected)

	require.NoError(t, e.Input(c))
	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, 1, tr.disconnectCount())
	assert.Equal(t, 0, e.ActiveClients())

	ev := rec.last()
	assert.Equal(t, EventDisconnect, ev.Type)
	assert.NoError(t, ev.Result)
}

func TestEngineDisconnectBeforeConnack(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := startClient(t, e, tr, "dev-1")

	require.NoError(t, e.Disconnect(c))
	require.NoError(t, e.Input(c))

	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, EventDisconnect, rec.last().Type)
}

func TestEngineAbort(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")
	writes := len(tr.writes())

	require.NoError(t, e.Abort(c))

	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, 1, tr.disconnectCount())
	assert.Len(t, tr.writes(), writes)

	ev := rec.last()
	assert.Equal(t, EventDisconnect, ev.Type)
	assert.ErrorIs(t, ev.Result, ErrConnectionAborted)

	events := len(rec.all())
	require.NoError(t, e.Abort(c))
	assert.Len(t, rec.all(), events)
	assert.Equal(t, 1, tr.disconnectCount())
}

func TestEngineAbortFromHandler(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")
	rec.reset()

	rec.hook = func(c *Client, ev *Event) {
		if ev.Type == EventPuback {
			assert.NoError(t, e.Abort(c))
		}
	}

	var chunk []byte
	chunk = append(chunk, ackPacket(PacketPUBACK, 1)...)
	chunk = append(chunk, ackPacket(PacketPUBACK, 2)...)
	tr.feed(chunk)

	require.NoError(t, e.Input(c))
	assert.Equal(t, []EventType{EventPuback, EventDisconnect}, rec.types())
	assert.Equal(t, StateIdle, e.State(c))
}

func TestEngineReconnectFromHandler(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := startClient(t, e, tr, "dev-1")

	rec.hook = func(c *Client, ev *Event) {
		if ev.Type == EventConnack && ev.Result != nil {
			assert.NoError(t, e.Connect(context.Background(), c))
		}
	}

	// A refused CONNACK followed by bytes the old connection never read.
	var chunk []byte
	chunk = append(chunk, 0x20, 0x02, 0x00, 0x03)
	chunk = append(chunk, ackPacket(PacketPUBACK, 1)...)
	tr.feed(chunk)

	require.NoError(t, e.Input(c))
	assert.Equal(t, []EventType{EventConnack}, rec.types())
	assert.Equal(t, StateTCPConnected, e.State(c))
	assert.Equal(t, 0, e.BufferedLen(c))
}

func TestEngineClientInitKeepsGeneration(t *testing.T) {
	e, _ := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	first := c.gen
	require.NoError(t, e.Abort(c))
	require.NoError(t, e.ClientInit(c))
	assert.Equal(t, first, c.gen)

	c.ClientID = "dev-1"
	c.Transport = tr
	require.NoError(t, e.Connect(context.Background(), c))
	assert.Greater(t, c.gen, first)
}

func TestEngineBusyAndAbortDuringWrite(t *testing.T) {
	e, rec := newTestEngine()
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	tr.mu.Lock()
	tr.block = true
	tr.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		result <- e.Publish(c, &PublishParam{Message: Message{Topic: "t"}})
	}()
	<-tr.writing

	assert.ErrorIs(t, e.Publish(c, &PublishParam{Message: Message{Topic: "t"}}), ErrBusy)
	assert.ErrorIs(t, e.Disconnect(c), ErrBusy)
	assert.ErrorIs(t, e.ClientInit(c), ErrAlreadyConnected)

	require.NoError(t, e.Abort(c))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("blocked write did not return")
	}

	assert.Equal(t, StateIdle, e.State(c))
	assert.Equal(t, 1, tr.disconnectCount())

	var disconnects []*Event
	for _, ev := range rec.all() {
		if ev.Type == EventDisconnect {
			disconnects = append(disconnects, ev)
		}
	}
	require.Len(t, disconnects, 1)
	assert.ErrorIs(t, disconnects[0].Result, ErrConnectionAborted)
}

func TestEngineMultipleClients(t *testing.T) {
	e, rec := newTestEngine(WithMaxClients(2))

	tr1, tr2 := newFakeTransport(), newFakeTransport()
	c1 := connectClient(t, e, tr1, "one")
	c2 := connectClient(t, e, tr2, "two")
	assert.Equal(t, 2, e.ActiveClients())

	rec.reset()
	tr2.feed(ackPacket(PacketPUBACK, 1))
	require.NoError(t, e.Input(c2))
	require.NoError(t, e.Abort(c1))

	assert.Equal(t, []EventType{EventPuback, EventDisconnect}, rec.types())
	assert.Equal(t, StateConnected, e.State(c2))
	assert.Equal(t, 1, e.ActiveClients())
}

func TestEngineMetrics(t *testing.T) {
	mem := NewMemoryMetrics()
	e, _ := newTestEngine(WithMetrics(mem))
	tr := newFakeTransport()
	c := connectClient(t, e, tr, "dev-1")

	require.NoError(t, e.Publish(c, &PublishParam{Message: Message{Topic: "t"}}))
	assert.Equal(t, float64(1), mem.GaugeValue(MetricClientsActive, nil))

	require.NoError(t, e.Abort(c))

	assert.Equal(t, float64(1), mem.CounterValue(MetricPacketsSent, MetricLabels{LabelPacketType: "CONNECT"}))
	assert.Equal(t, float64(1), mem.CounterValue(MetricPacketsSent, MetricLabels{LabelPacketType: "PUBLISH"}))
	assert.Equal(t, float64(1), mem.CounterValue(MetricPacketsReceived, MetricLabels{LabelPacketType: "CONNACK"}))
	assert.Equal(t, float64(4), mem.CounterValue(MetricBytesReceived, nil))
	assert.Equal(t, float64(0), mem.GaugeValue(MetricClientsActive, nil))
	assert.Equal(t, float64(1), mem.CounterValue(MetricAborts, MetricLabels{LabelReason: "abort"}))
}

func TestEngineOptions(t *testing.T) {
	e := New(WithMaxPacketSize(1), WithKeepAlive(30), WithLogger(nil), WithMetrics(nil), WithClock(nil))
	assert.Equal(t, MinPacketSize, e.MaxPacketSize())
	assert.Equal(t, 30*time.Second, e.KeepAlive())

	e = New(WithMaxPacketSize(1<<30), WithMaxClients(0))
	assert.Equal(t, maxRemainingLength+fixedHeaderMaxSize, e.opts.maxPacketSize)
	assert.Equal(t, DefaultMaxClients, e.registry.Cap())

	e = New()
	assert.Equal(t, DefaultMaxPacketSize, e.MaxPacketSize())
	assert.Equal(t, time.Duration(0), e.KeepAlive())
}
