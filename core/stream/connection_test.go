package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traderepublic/broker-session/core/wire"
)

type fakeSocket struct {
	mu       sync.Mutex
	incoming [][]byte
	idx      int
	writes   [][]byte
	closeCh  chan struct{}
	once     sync.Once
}

func newFakeSocket(incoming ...[]byte) *fakeSocket {
	return &fakeSocket{incoming: incoming, closeCh: make(chan struct{})}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	if f.idx < len(f.incoming) {
		msg := f.incoming[f.idx]
		f.idx++
		f.mu.Unlock()
		return 1, msg, nil
	}
	f.mu.Unlock()

	<-f.closeCh
	return 0, nil, errors.New("socket closed")
}

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeSocket) Close() error {
	f.once.Do(func() { close(f.closeCh) })
	return nil
}

type fakeDialer struct{ socket *fakeSocket }

func (d fakeDialer) Dial(_ context.Context, _ string, _ http.Header) (Socket, error) {
	return d.socket, nil
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestDialSendsConnectFrame(t *testing.T) {
	sock := newFakeSocket()
	conn := New("wss://example.invalid", WithDialer(fakeDialer{sock}))

	require.NoError(t, conn.Dial(context.Background(), "session=abc"))
	require.Len(t, sock.writes, 1)
	assert.Equal(t, wire.BuildConnect([]byte(connectDescriptor)), string(sock.writes[0]))
	assert.Equal(t, Connected, conn.State())

	sock.Close()
	_ = conn.Wait()
}

func TestDispatchDeltaUsesCodec(t *testing.T) {
	frames := [][]byte{
		[]byte(`3 A {"x":1,"y":2}`),
		[]byte("3 D =5\t+3\t-1\t=7"),
	}
	sock := newFakeSocket(frames...)
	conn := New("wss://example.invalid", WithDialer(fakeDialer{sock}))

	ch := conn.Register(3)
	require.NoError(t, conn.Dial(context.Background(), ""))

	answer := recvEvent(t, ch)
	require.NoError(t, answer.Err)
	assert.Equal(t, wire.CodeAnswer, answer.Code)

	delta := recvEvent(t, ch)
	require.NoError(t, delta.Err)
	payload, ok := delta.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), payload["x"])
	assert.Equal(t, float64(2), payload["y"])

	sock.Close()
	_ = conn.Wait()
}

func TestDispatchDeliversRealWireCompleteFrame(t *testing.T) {
	frames := [][]byte{
		[]byte(`3 A {"x":1}`),
		[]byte("3 C"),
	}
	sock := newFakeSocket(frames...)
	conn := New("wss://example.invalid", WithDialer(fakeDialer{sock}))

	ch := conn.Register(3)
	require.NoError(t, conn.Dial(context.Background(), ""))

	answer := recvEvent(t, ch)
	require.NoError(t, answer.Err)
	assert.Equal(t, wire.CodeAnswer, answer.Code)

	complete := recvEvent(t, ch)
	require.NoError(t, complete.Err)
	assert.Equal(t, wire.CodeComplete, complete.Code)

	sock.Close()
	_ = conn.Wait()
}

func TestDeltaWithoutBaselineDeliversWireError(t *testing.T) {
	sock := newFakeSocket([]byte("9 D =1"))
	conn := New("wss://example.invalid", WithDialer(fakeDialer{sock}))

	ch := conn.Register(9)
	require.NoError(t, conn.Dial(context.Background(), ""))

	ev := recvEvent(t, ch)
	require.Error(t, ev.Err)
	assert.ErrorIs(t, ev.Err, wire.ErrNoBaseline)

	sock.Close()
	_ = conn.Wait()
}

func TestFrameForUnregisteredSubscriptionIsDropped(t *testing.T) {
	sock := newFakeSocket([]byte(`42 A {}`))
	conn := New("wss://example.invalid", WithDialer(fakeDialer{sock}))

	ch := conn.Register(1)
	require.NoError(t, conn.Dial(context.Background(), ""))

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered to unrelated subscription: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	sock.Close()
	_ = conn.Wait()
}

func TestKillConnectionFailsAllActiveSubscriptions(t *testing.T) {
	conn := New("wss://example.invalid", WithDialer(fakeDialer{newFakeSocket()}))
	conn.mu.Lock()
	conn.state = Connected
	conn.mu.Unlock()

	ch := conn.Register(5)
	conn.killConnection(wire.ErrConnectionDead)

	ev := recvEvent(t, ch)
	require.Error(t, ev.Err)
	var wireErr *wire.Error
	require.ErrorAs(t, ev.Err, &wireErr)
	assert.Equal(t, 5, wireErr.SubscriptionID)
	assert.Equal(t, Disconnected, conn.State())
}

func TestReadErrorDeclaresConnectionDead(t *testing.T) {
	sock := newFakeSocket()
	conn := New("wss://example.invalid", WithDialer(fakeDialer{sock}))

	require.NoError(t, conn.Dial(context.Background(), ""))
	time.AfterFunc(10*time.Millisecond, func() { sock.Close() })

	err := conn.Wait()
	require.Error(t, err)
	assert.Equal(t, Disconnected, conn.State())
}

func TestUnregisterRemovesSubscription(t *testing.T) {
	conn := New("wss://example.invalid", WithDialer(fakeDialer{newFakeSocket()}))
	conn.Register(1)
	conn.Unregister(1)

	conn.mu.Lock()
	_, ok := conn.subs[1]
	conn.mu.Unlock()
	assert.False(t, ok)
}
