package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// FakeToken is an already-resolved paho token.
type FakeToken struct {
	Err error
}

func (t *FakeToken) Wait() bool                     { return true }
func (t *FakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *FakeToken) Error() error                   { return t.Err }

func (t *FakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// FakeMessage is a paho message built in tests.
type FakeMessage struct {
	MsgTopic    string
	MsgPayload  []byte
	MsgRetained bool
}

func (m *FakeMessage) Duplicate() bool   { return false }
func (m *FakeMessage) Qos() byte         { return 0 }
func (m *FakeMessage) Retained() bool    { return m.MsgRetained }
func (m *FakeMessage) Topic() string     { return m.MsgTopic }
func (m *FakeMessage) MessageID() uint16 { return 0 }
func (m *FakeMessage) Payload() []byte   { return m.MsgPayload }
func (m *FakeMessage) Ack()              {}

// FakeClient is an in-memory broker stand-in. Retained payloads are
// replayed on subscription, which is what the position restore relies on.
type FakeClient struct {
	mu           sync.Mutex
	Published    []*FakeMessage
	Retained     map[string][]byte
	Unsubscribed []string
	handlers     map[string]paho.MessageHandler
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Retained: map[string][]byte{},
		handlers: map[string]paho.MessageHandler{},
	}
}

func (f *FakeClient) IsConnected() bool      { return true }
func (f *FakeClient) IsConnectionOpen() bool { return true }
func (f *FakeClient) Connect() paho.Token    { return &FakeToken{} }
func (f *FakeClient) Disconnect(uint)        {}

func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	}

	f.mu.Lock()
	f.Published = append(f.Published, &FakeMessage{MsgTopic: topic, MsgPayload: body, MsgRetained: retained})
	if retained {
		f.Retained[topic] = body
	}
	f.mu.Unlock()

	return &FakeToken{}
}

func (f *FakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	f.mu.Lock()
	f.handlers[topic] = callback
	retained, found := f.Retained[topic]
	f.mu.Unlock()

	if found {
		callback(f, &FakeMessage{MsgTopic: topic, MsgPayload: retained, MsgRetained: true})
	}
	return &FakeToken{}
}

func (f *FakeClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	for topic := range filters {
		f.Subscribe(topic, filters[topic], callback)
	}
	return &FakeToken{}
}

func (f *FakeClient) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	for _, topic := range topics {
		delete(f.handlers, topic)
		f.Unsubscribed = append(f.Unsubscribed, topic)
	}
	f.mu.Unlock()
	return &FakeToken{}
}

func (f *FakeClient) AddRoute(topic string, callback paho.MessageHandler) {
	f.mu.Lock()
	f.handlers[topic] = callback
	f.mu.Unlock()
}

func (f *FakeClient) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

// Deliver invokes the handler subscribed to topic, as a broker would.
func (f *FakeClient) Deliver(topic string, payload string) bool {
	f.mu.Lock()
	handler, found := f.handlers[topic]
	f.mu.Unlock()

	if !found {
		return false
	}
	handler(f, &FakeMessage{MsgTopic: topic, MsgPayload: []byte(payload)})
	return true
}

// LastRetained returns the retained payload on topic, or "".
func (f *FakeClient) LastRetained(topic string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.Retained[topic])
}
