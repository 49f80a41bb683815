// Package mqttc provides a client protocol engine for MQTT 3.1 and 3.1.1.
//
// The engine turns a byte stream into typed control packets and back, and
// runs the connection state machine of a fixed number of clients. It owns no
// goroutines: the application decides when to read and when to check
// liveness, which makes it suitable for poll loops and constrained
// deployments.
//
// # Features
//
//   - CONNECT, PUBLISH, PUBACK, PUBREC, PUBREL, PUBCOMP, SUBSCRIBE,
//     UNSUBSCRIBE, PINGREQ and DISCONNECT encoding
//   - CONNACK, PUBLISH, PUBACK, PUBREC, PUBREL, PUBCOMP, SUBACK, UNSUBACK
//     and PINGRESP decoding
//   - Reassembly of packets across arbitrary transport fragmentation
//   - Fixed memory: every client uses two blocks of MaxPacketSize bytes
//   - Keep-alive with detection of unanswered PINGREQ
//   - Transports: TCP, TLS, WebSocket, QUIC, HTTP CONNECT and SOCKS5 proxies
//
// # Engine
//
// Create an engine, initialize a client and connect it:
//
//	engine := mqttc.New(
//	    mqttc.WithMaxClients(4),
//	    mqttc.WithMaxPacketSize(1024),
//	    mqttc.WithKeepAlive(60),
//	    mqttc.WithEventHandler(func(c *mqttc.Client, ev *mqttc.Event) { ... }),
//	)
//
//	var client mqttc.Client
//	engine.ClientInit(&client)
//	client.ClientID = "sensor-1"
//	client.Broker = "tcp://localhost:1883"
//	client.Transport = mqttc.NewConnTransport(&mqttc.URLDialer{})
//
//	err := engine.Connect(ctx, &client)
//
// Then call Input whenever the transport is readable and Live periodically:
//
//	for {
//	    select {
//	    case <-transport.Readable():
//	        engine.Input(&client)
//	    case <-time.After(engine.KeepAliveTimeLeft(&client)):
//	        engine.Live()
//	    }
//	}
//
// Results arrive as events. QoS acknowledgements are sent by the
// application: answer a QoS 1 PUBLISH with PublishQoS1Ack, a QoS 2 PUBLISH
// with PublishQoS2Receive and a PUBREL with PublishQoS2Complete; answer
// PUBREC for an outbound QoS 2 message with PublishQoS2Release. The engine
// does not retransmit.
//
// # Helper
//
// Helper wraps one engine client for applications that want a single
// connection with automatic QoS 1 acknowledgement:
//
//	h := mqttc.NewHelper(mqttc.WithKeepAlive(60))
//	h.Init(mqttc.HelperCallbacks{
//	    OnConnack: func(code mqttc.ConnackReturnCode, _ bool) { ... },
//	    OnPublish: func(topic string, payload []byte) { ... },
//	}, mqttc.HelperConfig{})
//	h.Connect(ctx, mqttc.HelperConnParams{ClientID: "id", Broker: url, Transport: t})
//	go h.Run(ctx)
//
// # Errors
//
// Synchronous failures are sentinel errors checked with errors.Is, for
// example ErrNotConnected or ErrBusy. Connection failures are delivered in
// Event.Result; ConnectError and TransportError carry details for errors.As.
//
// # Configuration
//
// LoadConfig reads a YAML file with environment overrides and produces engine
// options, a logrus backed Logger, a transport and client settings.
package mqttc
