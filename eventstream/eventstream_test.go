package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/remotefiles"
	"github.com/rclone/vault/store"
)

// fakeConn is a scriptable in-memory Conn
type fakeConn struct {
	incoming chan []byte
	outgoing chan []byte
	closed   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		outgoing: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case c.outgoing <- data:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// send queues an inbound server message
func (c *fakeConn) send(t *testing.T, message interface{}) {
	data, err := json.Marshal(message)
	require.NoError(t, err)
	c.incoming <- data
}

// expect reads the next outbound message and unmarshals it
func (c *fakeConn) expect(t *testing.T) map[string]interface{} {
	select {
	case data := <-c.outgoing:
		var message map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &message))
		return message
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

type fixture struct {
	store   *store.Store
	service *Service
	conns   chan *fakeConn
	dials   atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		store: store.New(),
		conns: make(chan *fakeConn, 4),
	}
	dialer := func(ctx context.Context, url string) (Conn, error) {
		f.dials.Add(1)
		conn := newFakeConn()
		f.conns <- conn
		return conn, nil
	}
	f.service = NewService("ws://test/events", dialer, &remote.StaticAuthProvider{Authorization: "Bearer token"}, f.store, vault.RealRuntime(), vault.EventstreamConfig{
		PingInterval:   time.Hour,
		ReconnectDelay: 10 * time.Millisecond,
	})
	return f
}

// connect brings the service to Connected over a fresh fake conn
func (f *fixture) connect(t *testing.T) *fakeConn {
	var conn *fakeConn
	select {
	case conn = <-f.conns:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dial")
	}
	auth := conn.expect(t)
	assert.Equal(t, "auth", auth["type"])
	assert.Equal(t, "Bearer token", auth["authorization"])
	conn.send(t, map[string]interface{}{"type": "authenticated"})

	require.Eventually(t, func() bool {
		var status store.ConnectionStatus
		f.store.WithState(func(state *store.State) {
			status = state.Eventstream.Status
		})
		return status == store.ConnectionConnected
	}, 5*time.Second, 5*time.Millisecond)

	return conn
}

func TestConnectAndSubscribe(t *testing.T) {
	f := newFixture(t)
	f.service.Connect(context.Background())
	conn := f.connect(t)

	subscription := f.service.Subscribe("m1", "/Vault")

	register := conn.expect(t)
	assert.Equal(t, "register", register["type"])
	assert.Equal(t, "m1", register["mountId"])
	assert.Equal(t, "/Vault", register["path"])
	requestId := register["requestId"].(float64)

	conn.send(t, map[string]interface{}{
		"type": "registered", "requestId": requestId, "listenerId": 7,
	})

	// an event for the listener updates the remote files model; the
	// event path is joined with the subscription path
	conn.send(t, map[string]interface{}{
		"type": "event", "listenerId": 7,
		"event": map[string]interface{}{
			"type": "fileCreatedEvent", "mountId": "m1", "path": "/file.txt",
			"file": map[string]interface{}{"name": "file.txt", "type": "file", "size": 4, "modified": 1},
		},
	})

	require.Eventually(t, func() bool {
		var found bool
		f.store.WithState(func(state *store.State) {
			found = remotefiles.SelectFile(state, vault.NewRemoteFileId("m1", "/Vault/file.txt")) != nil
		})
		return found
	}, 5*time.Second, 5*time.Millisecond)

	// the last subscriber deregisters the server listener
	subscription.Close()
	deregister := conn.expect(t)
	assert.Equal(t, "deregister", deregister["type"])
	assert.Equal(t, float64(7), deregister["listenerId"])

	f.service.Disconnect()
}

func TestReconnectReregisters(t *testing.T) {
	f := newFixture(t)
	f.service.Connect(context.Background())
	conn := f.connect(t)

	subscription := f.service.Subscribe("m1", "/Vault")
	defer subscription.Close()

	register := conn.expect(t)
	conn.send(t, map[string]interface{}{
		"type": "registered", "requestId": register["requestId"], "listenerId": 7,
	})

	// drop the transport - the service reconnects and re-registers
	// with a fresh request id
	_ = conn.Close()

	conn2 := f.connect(t)
	register2 := conn2.expect(t)
	assert.Equal(t, "register", register2["type"])
	assert.Equal(t, "m1", register2["mountId"])
	assert.NotEqual(t, register["requestId"], register2["requestId"])

	assert.GreaterOrEqual(t, f.dials.Load(), int32(2))

	f.service.Disconnect()
}

func TestSubscribeSharesListener(t *testing.T) {
	f := newFixture(t)
	f.service.Connect(context.Background())
	conn := f.connect(t)

	first := f.service.Subscribe("m1", "/Vault")
	register := conn.expect(t)
	conn.send(t, map[string]interface{}{
		"type": "registered", "requestId": register["requestId"], "listenerId": 9,
	})

	// the second subscriber of the same bucket shares the listener
	second := f.service.Subscribe("m1", "/Vault")
	f.store.WithState(func(state *store.State) {
		assert.Len(t, state.Eventstream.Listeners, 1)
	})

	// removing one subscriber keeps the listener alive
	first.Close()
	select {
	case data := <-conn.outgoing:
		t.Fatalf("unexpected outbound message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}

	// removing the last one deregisters
	second.Close()
	deregister := conn.expect(t)
	assert.Equal(t, "deregister", deregister["type"])

	f.service.Disconnect()
}

func TestUnknownMessageIgnored(t *testing.T) {
	f := newFixture(t)
	f.service.Connect(context.Background())
	conn := f.connect(t)

	conn.send(t, map[string]interface{}{"type": "somethingNew", "value": 42})

	// the connection stays up
	time.Sleep(20 * time.Millisecond)
	f.store.WithState(func(state *store.State) {
		assert.Equal(t, store.ConnectionConnected, state.Eventstream.Status)
	})

	f.service.Disconnect()
}
