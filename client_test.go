package push

import (
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

// fakeTransport records writes and lets the test drive the inbound side.
type fakeTransport struct {
	mu          sync.Mutex
	writes      [][]byte
	writeErr    error
	onData      func([]byte)
	onClosed    func(error)
	closed      bool
	silentClose bool
}

func (t *fakeTransport) Write(b []byte, done func(error)) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		done(ErrConnectionClosed)
		return
	}
	t.writes = append(t.writes, append([]byte(nil), b...))
	err := t.writeErr
	t.mu.Unlock()
	done(err)
}

func (t *fakeTransport) Bind(onData func([]byte), onClosed func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onData = onData
	t.onClosed = onClosed
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	onClosed, silent := t.onClosed, t.silentClose
	t.mu.Unlock()

	if onClosed != nil && !silent {
		onClosed(nil)
	}
	return nil
}

func (t *fakeTransport) deliver(b []byte) {
	t.mu.Lock()
	onData := t.onData
	t.mu.Unlock()
	onData(b)
}

func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	onClosed := t.onClosed
	t.mu.Unlock()
	onClosed(err)
}

func (t *fakeTransport) written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.writes...)
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) setWriteErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

type dialRequest struct {
	ctx  context.Context
	addr string
	done func(Transport, error)
}

// fakeDialer hands every dial to the test.
type fakeDialer struct {
	calls    atomic.Int32
	requests chan dialRequest
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{requests: make(chan dialRequest, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, addr string, done func(Transport, error)) {
	d.calls.Add(1)
	d.requests <- dialRequest{ctx: ctx, addr: addr, done: done}
}

type message struct {
	signal Signal
	text   string
}

// recorder collects application callbacks.
type recorder struct {
	connected  chan struct{}
	messages   chan message
	exceptions chan error
	closes     chan error
}

func newRecorder() *recorder {
	return &recorder{
		connected:  make(chan struct{}, 32),
		messages:   make(chan message, 256),
		exceptions: make(chan error, 32),
		closes:     make(chan error, 32),
	}
}

func (r *recorder) options() []Option {
	return []Option{
		OnConnectedOption(func() { r.connected <- struct{}{} }),
		OnMessageOption(func(signal Signal, text string) { r.messages <- message{signal, text} }),
		OnExceptionOption(func(err error) { r.exceptions <- err }),
		OnClosedOption(func(err error) { r.closes <- err }),
	}
}

type recordingObserver struct {
	mu          sync.Mutex
	sent        []Signal
	received    []Signal
	transitions []State
	failures    int
}

func (o *recordingObserver) FrameSent(signal Signal, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, signal)
}

func (o *recordingObserver) FrameReceived(signal Signal, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received = append(o.received, signal)
}

func (o *recordingObserver) StateChanged(_, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, to)
}

func (o *recordingObserver) ProtocolFailure(error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func startClient(t *testing.T, dialer Dialer, opts ...Option) (*Client, *recorder) {
	t.Helper()
	rec := newRecorder()
	c, err := NewClient(dialer, append(rec.options(), opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, rec
}

// settle waits until everything queued on the event loop so far has run.
func settle(t *testing.T, c *Client) {
	t.Helper()
	done := make(chan struct{})
	c.inbox.post(func() { close(done) })
	receive(t, done)
}

func connectClient(t *testing.T, c *Client, dialer *fakeDialer, rec *recorder) *fakeTransport {
	t.Helper()
	c.Connect("127.0.0.1", 9000)
	req := receive(t, dialer.requests)
	tr := &fakeTransport{}
	req.done(tr, nil)
	receive(t, rec.connected)
	require.Equal(t, Connected, c.State())
	return tr
}

func completion() (func(error), chan error) {
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, ch
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, OnMessageOption(func(Signal, string) {}))
	assert.ErrorIs(t, err, ErrInvalidDialer)

	_, err = NewClient(newFakeDialer())
	assert.ErrorIs(t, err, ErrInvalidOnMessage)
}

func TestClient_InitialState(t *testing.T) {
	c, err := NewClient(newFakeDialer(), OnMessageOption(func(Signal, string) {}))
	require.NoError(t, err)
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	c, _ := startClient(t, newFakeDialer())

	err := c.Send(SignalPush, "hello", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_SendWhileConnecting(t *testing.T) {
	dialer := newFakeDialer()
	c, _ := startClient(t, dialer)

	c.Connect("127.0.0.1", 9000)
	receive(t, dialer.requests)
	assert.Equal(t, Connecting, c.State())

	assert.ErrorIs(t, c.Subscribe("abc", nil), ErrNotConnected)
}

func TestClient_ConnectAndSend(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)

	c.Connect("127.0.0.1", 9000)
	req := receive(t, dialer.requests)
	assert.Equal(t, "127.0.0.1:9000", req.addr)

	tr := &fakeTransport{}
	req.done(tr, nil)
	receive(t, rec.connected)
	assert.Equal(t, Connected, c.State())

	onComplete, result := completion()
	require.NoError(t, c.Subscribe("abc", onComplete))
	require.NoError(t, receive(t, result))

	want := append([]byte{1, 0, 0, 0, 13}, `{"uid":"abc"}`...)
	assert.Equal(t, [][]byte{want}, tr.written())
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)

	c.Connect("127.0.0.1", 9000)
	req := receive(t, dialer.requests)
	c.Connect("127.0.0.1", 9000)
	settle(t, c)
	assert.Equal(t, int32(1), dialer.calls.Load())

	req.done(&fakeTransport{}, nil)
	receive(t, rec.connected)

	c.Connect("127.0.0.1", 9001)
	settle(t, c)
	assert.Equal(t, int32(1), dialer.calls.Load())
	assert.Equal(t, Connected, c.State())
}

func TestClient_ConnectFailure(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)

	refused := errors.New("connection refused")
	c.Connect("127.0.0.1", 9000)
	req := receive(t, dialer.requests)
	req.done(nil, refused)

	err := receive(t, rec.exceptions)
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "127.0.0.1:9000", cerr.Addr)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, Disconnected, c.State())

	// A new attempt is allowed.
	c.Connect("127.0.0.1", 9000)
	receive(t, dialer.requests)
	assert.Equal(t, int32(2), dialer.calls.Load())
}

func TestClient_SynchronousDialFailure(t *testing.T) {
	refused := errors.New("no route")
	dialer := DialerFunc(func(_ context.Context, _ string, done func(Transport, error)) {
		done(nil, refused)
	})
	c, rec := startClient(t, dialer)

	c.Connect("localhost", 1)

	err := receive(t, rec.exceptions)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_ReceivesFragmentedFrames(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)
	tr := connectClient(t, c, dialer, rec)

	codec := NewCodec(0)
	stream := append(codec.EncodeFrame(SignalPush, []byte("first")),
		codec.EncodeFrame(SignalPing, []byte(`{"interval":1000}`))...)
	stream = append(stream, codec.EncodeFrame(SignalPush, nil)...)

	for _, b := range stream[:7] {
		tr.deliver([]byte{b})
	}
	tr.deliver(stream[7:])

	assert.Equal(t, message{SignalPush, "first"}, receive(t, rec.messages))
	assert.Equal(t, message{SignalPing, `{"interval":1000}`}, receive(t, rec.messages))
	assert.Equal(t, message{SignalPush, ""}, receive(t, rec.messages))
}

func TestClient_InvalidUTF8IsReplaced(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)
	tr := connectClient(t, c, dialer, rec)

	tr.deliver(NewCodec(0).EncodeFrame(SignalPush, []byte{0xff, 'a'}))

	assert.Equal(t, "\uFFFDa", receive(t, rec.messages).text)
}

func TestClient_ProtocolErrorForcesDisconnect(t *testing.T) {
	observer := &recordingObserver{}
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer, ObserverOption(observer))
	tr := connectClient(t, c, dialer, rec)

	chunk := append(NewCodec(0).EncodeFrame(SignalPush, []byte("before")), 0xFF, 0, 0, 0, 0)
	tr.deliver(chunk)

	assert.Equal(t, message{SignalPush, "before"}, receive(t, rec.messages))

	err := receive(t, rec.exceptions)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, ErrMalformedHeader)

	settle(t, c)
	assert.Equal(t, Disconnected, c.State())
	assert.True(t, tr.isClosed())
	assert.Empty(t, rec.closes, "close notification of the dropped transport must be ignored")

	observer.mu.Lock()
	assert.Equal(t, 1, observer.failures)
	observer.mu.Unlock()

	assert.ErrorIs(t, c.Send(SignalPush, "x", nil), ErrNotConnected)
}

func TestClient_WriteErrorKeepsConnection(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)
	tr := connectClient(t, c, dialer, rec)

	broken := errors.New("broken pipe")
	tr.setWriteErr(broken)

	onComplete, result := completion()
	require.NoError(t, c.Heartbeat(30*time.Second, onComplete))

	err := receive(t, result)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, SignalPing, werr.Signal)
	assert.ErrorIs(t, err, broken)

	settle(t, c)
	assert.Equal(t, Connected, c.State())
	assert.Empty(t, rec.exceptions)
}

func TestClient_SendPreservesOrder(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)
	tr := connectClient(t, c, dialer, rec)

	const n = 100
	completed := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		require.NoError(t, c.Send(SignalPush, strconv.Itoa(i), func(err error) {
			assert.NoError(t, err)
			completed <- i
		}))
	}

	for i := 0; i < n; i++ {
		assert.Equal(t, i, receive(t, completed))
	}

	writes := tr.written()
	require.Len(t, writes, n)
	for i, w := range writes {
		assert.Equal(t, strconv.Itoa(i), string(w[HeaderLen:]))
	}
}

func TestClient_PayloadTooLarge(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer, MaxBodyLengthOption(4))
	connectClient(t, c, dialer, rec)

	assert.NoError(t, c.Send(SignalPush, "four", nil))
	assert.ErrorIs(t, c.Send(SignalPush, "fives", nil), ErrPayloadTooLarge)
}

func TestClient_TransportClosedReturnsToDisconnected(t *testing.T) {
	testCases := []struct {
		desc string
		err  error
	}{
		{"clean", nil},
		{"error", io.ErrUnexpectedEOF},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			dialer := newFakeDialer()
			c, rec := startClient(t, dialer)
			tr := connectClient(t, c, dialer, rec)

			tr.drop(tc.err)

			assert.Equal(t, tc.err, receive(t, rec.closes))
			assert.Equal(t, Disconnected, c.State())

			// Reconnecting after a drop works.
			connectClient(t, c, dialer, rec)
		})
	}
}

func TestClient_CleanCloseReportedWithoutCloseCallback(t *testing.T) {
	rec := newRecorder()
	dialer := newFakeDialer()
	c, err := NewClient(dialer,
		OnConnectedOption(func() { rec.connected <- struct{}{} }),
		OnMessageOption(func(signal Signal, text string) { rec.messages <- message{signal, text} }),
		OnExceptionOption(func(err error) { rec.exceptions <- err }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	tr := connectClient(t, c, dialer, rec)
	tr.drop(nil)

	assert.ErrorIs(t, receive(t, rec.exceptions), ErrConnectionClosed)
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_Close(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)
	tr := connectClient(t, c, dialer, rec)

	c.Close()

	assert.NoError(t, receive(t, rec.closes))
	assert.True(t, tr.isClosed())
	assert.Equal(t, Disconnected, c.State())
	assert.ErrorIs(t, c.Send(SignalPush, "late", nil), ErrNotConnected)
}

func TestClient_CloseSupervision(t *testing.T) {
	logger := &recordingLogger{}
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer, CloseTimeoutOption(50*time.Millisecond), LoggerOption(logger))
	tr := connectClient(t, c, dialer, rec)
	tr.mu.Lock()
	tr.silentClose = true
	tr.mu.Unlock()

	start := time.Now()
	c.Close()

	assert.NoError(t, receive(t, rec.closes))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, Disconnected, c.State())
	assert.True(t, logger.has("warn", "transport did not report close, cleaning up"))

	settle(t, c)
	assert.Empty(t, rec.closes)
}

func TestClient_CloseCancelsDial(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)

	c.Connect("127.0.0.1", 9000)
	req := receive(t, dialer.requests)

	c.Close()
	select {
	case <-req.ctx.Done():
	case <-time.After(waitTimeout):
		t.Fatal("dial context was not canceled")
	}
	req.done(nil, req.ctx.Err())

	assert.NoError(t, receive(t, rec.closes))
	assert.Equal(t, Disconnected, c.State())

	settle(t, c)
	assert.Empty(t, rec.exceptions)
}

func TestClient_TransportAfterCloseIsReleased(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)

	c.Connect("127.0.0.1", 9000)
	req := receive(t, dialer.requests)
	c.Close()
	settle(t, c)

	tr := &fakeTransport{}
	req.done(tr, nil)

	assert.NoError(t, receive(t, rec.closes))
	settle(t, c)
	assert.True(t, tr.isClosed())
	assert.Empty(t, rec.connected)
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_CloseWhileDisconnected(t *testing.T) {
	c, rec := startClient(t, newFakeDialer())

	c.Close()
	settle(t, c)

	assert.Empty(t, rec.closes)
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_StaleTransportIsIgnored(t *testing.T) {
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer)

	old := connectClient(t, c, dialer, rec)
	old.drop(nil)
	receive(t, rec.closes)

	current := connectClient(t, c, dialer, rec)

	old.deliver(NewCodec(0).EncodeFrame(SignalPush, []byte("stale")))
	old.drop(io.ErrUnexpectedEOF)
	current.deliver(NewCodec(0).EncodeFrame(SignalPush, []byte("fresh")))

	assert.Equal(t, message{SignalPush, "fresh"}, receive(t, rec.messages))
	settle(t, c)
	assert.Empty(t, rec.closes)
	assert.Equal(t, Connected, c.State())
}

func TestClient_RunShutdownReleasesTransport(t *testing.T) {
	dialer := newFakeDialer()
	rec := newRecorder()
	c, err := NewClient(dialer, rec.options()...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	tr := connectClient(t, c, dialer, rec)
	cancel()

	assert.ErrorIs(t, receive(t, done), context.Canceled)
	assert.NoError(t, receive(t, rec.closes))
	assert.True(t, tr.isClosed())
	assert.Equal(t, Disconnected, c.State())
	assert.ErrorIs(t, c.Send(SignalPush, "x", nil), ErrNotConnected)
}

func TestClient_ObserverSeesLifecycle(t *testing.T) {
	observer := &recordingObserver{}
	dialer := newFakeDialer()
	c, rec := startClient(t, dialer, ObserverOption(observer))
	tr := connectClient(t, c, dialer, rec)

	require.NoError(t, c.Send(SignalPush, "out", nil))
	tr.deliver(NewCodec(0).EncodeFrame(SignalPush, []byte("in")))
	receive(t, rec.messages)

	c.Close()
	receive(t, rec.closes)
	settle(t, c)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, []State{Connecting, Connected, Disconnected}, observer.transitions)
	assert.Equal(t, []Signal{SignalPush}, observer.sent)
	assert.Equal(t, []Signal{SignalPush}, observer.received)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "State(7)", State(7).String())
}

func TestMailbox_FIFO(t *testing.T) {
	m := newMailbox[int]()
	for i := 0; i < 5; i++ {
		m.post(i)
	}

	select {
	case <-m.notify:
	default:
		t.Fatal("post did not signal")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, m.drain())
	assert.Empty(t, m.drain())
}
