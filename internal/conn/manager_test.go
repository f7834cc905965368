package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/serialdash/internal/device"
	"github.com/shaunagostinho/serialdash/internal/metrics"
)

type fakeSource struct {
	mu           sync.Mutex
	chunks       [][]byte
	written      []byte
	handshakeErr error
	readErr      error
	closed       int
}

func (f *fakeSource) ReadAvailable() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.chunks) == 0 {
		return nil, nil
	}
	c := f.chunks[0]
	f.chunks = f.chunks[1:]
	return c, nil
}

func (f *fakeSource) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeSource) Handshake(settle, timeout time.Duration) error { return f.handshakeErr }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return errors.New("already broken")
}

func (f *fakeSource) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeEnum struct {
	mu    sync.Mutex
	ports []device.PortInfo
	calls int
}

func (e *fakeEnum) Ports() ([]device.PortInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return append([]device.PortInfo(nil), e.ports...), nil
}

func (e *fakeEnum) set(ports ...device.PortInfo) {
	e.mu.Lock()
	e.ports = ports
	e.mu.Unlock()
}

type recordingSink struct {
	mu  sync.Mutex
	buf []byte
}

func (s *recordingSink) Consume(chunk []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, chunk...)
	s.mu.Unlock()
}

func (s *recordingSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(st Status) {
	l.mu.Lock()
	l.states = append(l.states, st.State)
	l.mu.Unlock()
}

func (l *stateLog) get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func testOptions() Options {
	return Options{
		AcquireDelay:   time.Millisecond,
		DiscoveryDelay: 5 * time.Millisecond,
	}
}

func TestConnectOpenFailure(t *testing.T) {
	dial := func(name string, baud int) (device.Source, error) {
		return nil, errors.New("no such device")
	}
	m := NewManager(dial, nil, &recordingSink{}, metrics.New(), testOptions())
	var log stateLog
	m.OnStatus(log.record)

	err := m.Connect("/dev/ttyACM0", 9600)
	require.Error(t, err)

	assert.Equal(t, []State{Establishing, Failed}, log.get())
	st := m.Status()
	assert.Equal(t, Failed, st.State)
	assert.Equal(t, "unable to connect to /dev/ttyACM0.", st.Text())
	assert.Contains(t, st.Err, "no such device")

	assert.Nil(t, m.src)
	assert.False(t, m.acquire.Running())
	_, err = m.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)

	m.Acknowledge()
	assert.Equal(t, Disconnected, m.Status().State)
}

func TestConnectHandshakeFailureClosesHandle(t *testing.T) {
	src := &fakeSource{handshakeErr: errors.New("timeout")}
	dial := func(string, int) (device.Source, error) { return src, nil }
	m := NewManager(dial, nil, &recordingSink{}, nil, testOptions())

	require.Error(t, m.Connect("/dev/ttyUSB0", 115200))
	assert.Equal(t, Failed, m.Status().State)
	assert.Equal(t, 1, src.closedCount())
	assert.Nil(t, m.src)
}

func TestConnectAcquireDisconnect(t *testing.T) {
	src := &fakeSource{chunks: [][]byte{[]byte("1,2\n3"), []byte(",4\n")}}
	dial := func(string, int) (device.Source, error) { return src, nil }
	sink := &recordingSink{}
	m := NewManager(dial, nil, sink, metrics.New(), testOptions())
	var log stateLog
	m.OnStatus(log.record)

	require.NoError(t, m.Connect("/dev/ttyUSB0", 115200))
	st := m.Status()
	assert.Equal(t, Connected, st.State)
	assert.Equal(t, "connected to /dev/ttyUSB0.", st.Text())
	assert.NotEmpty(t, st.Session)

	require.Eventually(t, func() bool { return sink.String() == "1,2\n3,4\n" },
		time.Second, time.Millisecond)

	assert.ErrorIs(t, m.Connect("/dev/ttyUSB0", 115200), ErrAlreadyConnected)

	n, err := m.Send([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, m.Disconnect(), "close error is swallowed")
	assert.Equal(t, Disconnected, m.Status().State)
	assert.Equal(t, 1, src.closedCount())
	assert.Nil(t, m.acquire)
	assert.ErrorIs(t, m.Disconnect(), ErrNotConnected)

	assert.Equal(t, []State{Establishing, Connected, Disconnected}, log.get())
}

func TestAcquireSurvivesReadErrors(t *testing.T) {
	src := &fakeSource{readErr: errors.New("glitch")}
	dial := func(string, int) (device.Source, error) { return src, nil }
	sink := &recordingSink{}
	m := NewManager(dial, nil, sink, nil, testOptions())
	require.NoError(t, m.Connect("x", 9600))

	time.Sleep(10 * time.Millisecond)
	assert.True(t, m.acquire.Running())

	src.mu.Lock()
	src.readErr = nil
	src.chunks = [][]byte{[]byte("ok\n")}
	src.mu.Unlock()
	require.Eventually(t, func() bool { return sink.String() == "ok\n" }, time.Second, time.Millisecond)
	m.Shutdown()
}

func TestConnectUsesSelection(t *testing.T) {
	var got string
	dial := func(name string, baud int) (device.Source, error) {
		got = name
		return &fakeSource{}, nil
	}
	m := NewManager(dial, nil, &recordingSink{}, nil, testOptions())
	assert.ErrorIs(t, m.Connect("", 9600), ErrNoPort)

	m.Catalog().Select("/dev/ttyS3")
	require.NoError(t, m.Connect("", 9600))
	assert.Equal(t, "/dev/ttyS3", got)
	m.Shutdown()
}

func TestDiscoveryPublishesOnlyChanges(t *testing.T) {
	enum := &fakeEnum{}
	enum.set(device.PortInfo{Name: "a", Label: "a"})
	dial := func(string, int) (device.Source, error) { return &fakeSource{}, nil }
	m := NewManager(dial, enum, &recordingSink{}, metrics.New(), testOptions())

	var mu sync.Mutex
	var published [][]device.PortInfo
	m.OnCatalog(func(p []device.PortInfo) {
		mu.Lock()
		published = append(published, p)
		mu.Unlock()
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(published)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.Eventually(t, func() bool { return count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, count(), "unchanged set is not republished")
	assert.Equal(t, "a", m.Catalog().Selected())

	enum.set(device.PortInfo{Name: "b", Label: "b"}, device.PortInfo{Name: "a", Label: "a"})
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "a", m.Catalog().Selected(), "existing selection kept")

	require.NoError(t, m.Connect("a", 9600))
	assert.False(t, m.discovery.Running(), "discovery cancelled while connected")

	require.NoError(t, m.Disconnect())
	assert.True(t, m.discovery.Running(), "discovery restarted")

	m.Shutdown()
	assert.Nil(t, m.discovery)
}

func TestTaskCancelIsIdempotent(t *testing.T) {
	var nilTask *Task
	nilTask.Cancel()
	nilTask.Wait()
	assert.False(t, nilTask.Running())

	task := Go(context.Background(), func(ctx context.Context) { <-ctx.Done() })
	assert.True(t, task.Running())
	task.Cancel()
	task.Cancel()
	task.Wait()
	assert.False(t, task.Running())
	task.Stop()

	done := Go(context.Background(), func(context.Context) {})
	done.Wait()
	done.Cancel()
}

func TestCatalogSetEquality(t *testing.T) {
	var c Catalog
	assert.False(t, c.Update(nil))
	a := device.PortInfo{Name: "a", Label: "A"}
	b := device.PortInfo{Name: "b", Label: "B"}

	assert.True(t, c.Update([]device.PortInfo{a, b}))
	assert.False(t, c.Update([]device.PortInfo{b, a}), "order does not matter")
	assert.True(t, c.Update([]device.PortInfo{b, {Name: "a", Label: "A2"}}))
	assert.Equal(t, "a", c.Selected())
	assert.True(t, c.Update([]device.PortInfo{b}))
	assert.Equal(t, []device.PortInfo{b}, c.Options())
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "disconnected", Status{}.Text())
	assert.Equal(t, "establishing connection to COM3...", Status{State: Establishing, Port: "COM3"}.Text())
	assert.Equal(t, "failed", Failed.String())

	b, err := Connected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "connected", string(b))
}
