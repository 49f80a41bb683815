// Package router dispatches inbound PUBLISH messages of an mqttc Engine or
// Helper to handlers selected by topic filter and message attributes.
package router

import (
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/mqttc"
)

// Handler processes an inbound PUBLISH. c is the receiving client; it is nil
// for messages routed through PublishHandler.
type Handler func(c *mqttc.Client, msg *mqttc.PublishParam)

// Condition defines filtering criteria for message routing.
type Condition struct {
	topicFilter    *string
	qos            *mqttc.QoS
	retain         *bool
	clientIDRegexp *regexp.Regexp
	payloadRegexp  *regexp.Regexp
}

// ConditionOption configures a Condition.
type ConditionOption func(*Condition)

// WithTopic sets the topic filter for message matching.
// Supports MQTT wildcards: + (single level) and # (multi level).
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) {
		c.topicFilter = &filter
	}
}

// WithQoS filters messages by QoS level.
func WithQoS(qos mqttc.QoS) ConditionOption {
	return func(c *Condition) {
		c.qos = &qos
	}
}

// WithRetain filters messages by the RETAIN flag.
func WithRetain(retain bool) ConditionOption {
	return func(c *Condition) {
		c.retain = &retain
	}
}

// WithClientID filters messages by the id of the receiving client.
func WithClientID(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.clientIDRegexp = pattern
	}
}

// WithPayload filters messages by a payload regexp pattern.
func WithPayload(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.payloadRegexp = pattern
	}
}

type registration struct {
	handler   Handler
	condition Condition
}

// Router dispatches messages to handlers based on conditions.
type Router struct {
	mu       sync.RWMutex
	handlers []registration
}

// New creates a new Router.
func New() *Router {
	return &Router{
		handlers: make([]registration, 0),
	}
}

// Handle registers a handler with optional conditions.
//
// Examples:
//
//	r.Handle(handler, WithTopic("sensors/#"))
//	r.Handle(handler, WithTopic("sensors/#"), WithQoS(mqttc.QoS1))
//	r.Handle(handler, WithTopic("sensors/#"), WithClientID(regexp.MustCompile(`^sensor-`)))
func (r *Router) Handle(handler Handler, opts ...ConditionOption) {
	var cond Condition
	for _, opt := range opts {
		opt(&cond)
	}

	r.mu.Lock()
	r.handlers = append(r.handlers, registration{
		handler:   handler,
		condition: cond,
	})
	r.mu.Unlock()
}

func (c *Condition) matches(client *mqttc.Client, msg *mqttc.PublishParam) bool {
	if c.topicFilter != nil && !mqttc.TopicMatch(*c.topicFilter, msg.Topic) {
		return false
	}
	if c.qos != nil && *c.qos != msg.QoS {
		return false
	}
	if c.retain != nil && *c.retain != msg.Retain {
		return false
	}
	if c.clientIDRegexp != nil {
		var id string
		if client != nil {
			id = client.ClientID
		}
		if !c.clientIDRegexp.MatchString(id) {
			return false
		}
	}
	if c.payloadRegexp != nil && !c.payloadRegexp.Match(msg.Payload) {
		return false
	}
	return true
}

// Route dispatches a message to all matching handlers and reports whether
// any handler ran.
func (r *Router) Route(c *mqttc.Client, msg *mqttc.PublishParam) bool {
	if msg == nil {
		return false
	}

	r.mu.RLock()
	var matched []Handler
	for _, reg := range r.handlers {
		if reg.condition.matches(c, msg) {
			matched = append(matched, reg.handler)
		}
	}
	r.mu.RUnlock()

	for _, handler := range matched {
		handler(c, msg)
	}
	return len(matched) > 0
}

// Filters returns all unique registered topic filters, sorted.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filters := make([]string, 0, len(r.handlers))
	for _, reg := range r.handlers {
		if reg.condition.topicFilter != nil {
			filters = append(filters, *reg.condition.topicFilter)
		}
	}

	slices.Sort(filters)
	return slices.Compact(filters)
}

// SubscriptionList returns a SUBSCRIBE request for every registered topic
// filter at qos, or nil when no handler has a topic filter.
func (r *Router) SubscriptionList(messageID uint16, qos mqttc.QoS) *mqttc.SubscriptionList {
	filters := r.Filters()
	if len(filters) == 0 {
		return nil
	}

	list := &mqttc.SubscriptionList{MessageID: messageID}
	for _, f := range filters {
		list.Topics = append(list.Topics, mqttc.TopicQoS{Topic: f, QoS: qos})
	}
	return list
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clear removes all handlers.
func (r *Router) Clear() {
	r.mu.Lock()
	r.handlers = r.handlers[:0]
	r.mu.Unlock()
}

// EventHandler returns an engine event handler that routes PUBLISH events
// and passes every event to next, which may be nil.
func (r *Router) EventHandler(next mqttc.EventHandler) mqttc.EventHandler {
	return func(c *mqttc.Client, ev *mqttc.Event) {
		if ev.Type == mqttc.EventPublish {
			r.Route(c, &ev.Publish)
		}
		if next != nil {
			next(c, ev)
		}
	}
}

// PublishHandler returns a callback for HelperCallbacks.OnPublish. The
// Helper does not pass QoS or RETAIN, so messages are routed as QoS 0
// without RETAIN.
func (r *Router) PublishHandler() func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		r.Route(nil, &mqttc.PublishParam{
			Message: mqttc.Message{Topic: topic, Payload: payload},
		})
	}
}
