package request

import (
	"context"
	"errors"
	stdnet "net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/scosc/net"
	"github.com/lcx/scosc/osc"
	"github.com/lcx/scosc/utils"
)

// fakeServer answers requests through reply. Commands reply maps to nil
// are ignored.
type fakeServer struct {
	conn  *stdnet.UDPConn
	port  int
	reply func(msg *osc.Message) *osc.Message

	mu     sync.Mutex
	client *stdnet.UDPAddr
}

func newFakeServer(t *testing.T) *fakeServer {
	return newFakeServerWith(t, answer)
}

func newFakeServerWith(t *testing.T, reply func(msg *osc.Message) *osc.Message) *fakeServer {
	t.Helper()
	port, err := utils.FindFreePort()
	require.NoError(t, err)
	conn, err := stdnet.ListenUDP("udp4", &stdnet.UDPAddr{IP: stdnet.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)

	s := &fakeServer{conn: conn, port: port, reply: reply}
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.serve()
	}()
	t.Cleanup(func() {
		_ = conn.Close()
		<-done
	})
	return s
}

func (s *fakeServer) serve() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, stdnet.ErrClosed) {
				return
			}
			continue
		}
		s.mu.Lock()
		s.client = addr
		s.mu.Unlock()
		pkt, err := osc.ParsePacket(buf[:n])
		if err != nil {
			continue
		}
		var msgs []*osc.Message
		switch pkt := pkt.(type) {
		case *osc.Message:
			msgs = []*osc.Message{pkt}
		case *osc.Bundle:
			msgs = pkt.Messages()
		}
		for _, msg := range msgs {
			reply := s.reply(msg)
			if reply == nil {
				continue
			}
			if datagram, err := reply.MarshalBinary(); err == nil {
				_, _ = s.conn.WriteToUDP(datagram, addr)
			}
		}
	}
}

// send writes msg to the transport under test.
func (s *fakeServer) send(t *testing.T, msg *osc.Message) {
	t.Helper()
	s.mu.Lock()
	addr := s.client
	s.mu.Unlock()
	require.NotNil(t, addr)
	datagram, err := msg.MarshalBinary()
	require.NoError(t, err)
	_, err = s.conn.WriteToUDP(datagram, addr)
	require.NoError(t, err)
}

// answer replies the way the synthesis server would.
func answer(msg *osc.Message) *osc.Message {
	switch msg.Address {
	case osc.String("/status"):
		return osc.MustMessage("/status.reply", 1, 3, 1, 2, 4, float32(1.5), float32(2.5), osc.Float64(48000), osc.Float64(47999.5))
	case osc.String("/sync"):
		return osc.MustMessage("/synced", msg.Arguments[0])
	case osc.String("/b_alloc"):
		if msg.Arguments[0] == osc.Int32(666) {
			return osc.MustMessage("/fail", "/b_alloc", "buffer already in use", 666)
		}
		return osc.MustMessage("/done", "/b_alloc", msg.Arguments[0])
	}
	return nil
}

func newConnectedThreaded(t *testing.T, port int) *net.ThreadedTransport {
	t.Helper()
	tr := net.NewThreadedTransport(net.WithName(t.Name()), net.WithPollInterval(5*time.Millisecond))
	require.NoError(t, tr.Connect("127.0.0.1", port))
	t.Cleanup(func() {
		tr.Disconnect()
		tr.Wait()
	})
	return tr
}

func TestCommunicate(t *testing.T) {
	srv := newFakeServer(t)
	tr := newConnectedThreaded(t, srv.port)
	ctx := context.Background()

	resp, err := Communicate(ctx, tr, &QueryStatus{}, time.Second)
	require.NoError(t, err)
	status, ok := resp.(*StatusInfo)
	require.True(t, ok, "got %T", resp)
	assert.Equal(t, int32(3), status.UGenCount)
	assert.Equal(t, int32(4), status.SynthDefCount)
	assert.Equal(t, 2.5, status.PeakCPU)
	assert.Equal(t, 47999.5, status.ActualSampleRate)

	resp, err = Communicate(ctx, tr, &AllocateBuffer{BufferID: 1, FrameCount: 512, ChannelCount: 1}, time.Second)
	require.NoError(t, err)
	done, ok := resp.(*DoneInfo)
	require.True(t, ok, "got %T", resp)
	assert.Equal(t, "/b_alloc", done.CommandName)
	assert.Equal(t, 0, tr.RegistrySize())
}

func TestCommunicateFireAndForget(t *testing.T) {
	srv := newFakeServer(t)
	tr := newConnectedThreaded(t, srv.port)

	resp, err := Communicate(context.Background(), tr, &NewGroup{NodeID: 1000, AddAction: AddToTail, TargetID: 1}, time.Second)
	assert.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 0, tr.RegistrySize())
}

func TestCommunicateFailure(t *testing.T) {
	srv := newFakeServer(t)
	tr := newConnectedThreaded(t, srv.port)

	resp, err := Communicate(context.Background(), tr, &AllocateBuffer{BufferID: 666}, time.Second)
	assert.ErrorIs(t, err, ErrFailed)
	fail, ok := resp.(*FailInfo)
	require.True(t, ok, "got %T", resp)
	assert.Equal(t, "buffer already in use", fail.Error)
	assert.Equal(t, 0, tr.RegistrySize())
}

func TestCommunicateTimeout(t *testing.T) {
	srv := newFakeServer(t)
	tr := newConnectedThreaded(t, srv.port)

	// the server never answers /quit
	start := time.Now()
	resp, err := Communicate(context.Background(), tr, &Quit{}, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, resp)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 0, tr.RegistrySize())
}

func TestCommunicateCancelled(t *testing.T) {
	srv := newFakeServer(t)
	tr := newConnectedThreaded(t, srv.port)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Communicate(ctx, tr, &Quit{}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, tr.RegistrySize())
}

func TestCommunicateOffline(t *testing.T) {
	tr := net.NewThreadedTransport()

	_, err := Communicate(context.Background(), tr, &QueryStatus{}, time.Second)
	assert.ErrorIs(t, err, net.ErrProtocolOffline)
	assert.Equal(t, 0, tr.RegistrySize())
}

func TestCommunicateRequestBundle(t *testing.T) {
	srv := newFakeServer(t)
	tr := newConnectedThreaded(t, srv.port)
	ids := utils.NewIDAllocator(5000)

	bundle := &RequestBundle{Contents: []Requestable{
		&AllocateBuffer{BufferID: 1, FrameCount: 512, ChannelCount: 1},
		&NewGroup{NodeID: 1000},
	}}
	resp, err := Communicate(context.Background(), tr, bundle, time.Second, WithSyncIDs(ids))
	require.NoError(t, err)
	synced, ok := resp.(*SyncedInfo)
	require.True(t, ok, "got %T", resp)
	assert.Equal(t, int32(5000), synced.SyncID)
	assert.Equal(t, int32(5001), ids.Peek())
}

func TestCommunicateWithDecoder(t *testing.T) {
	srv := newFakeServer(t)
	tr := newConnectedThreaded(t, srv.port)

	var seen *osc.Message
	resp, err := Communicate(context.Background(), tr, &QueryStatus{}, time.Second,
		WithDecoder(func(msg *osc.Message) (Response, error) {
			seen = msg
			return &GenericResponse{raw{msg}}, nil
		}))
	require.NoError(t, err)
	assert.IsType(t, &GenericResponse{}, resp)
	assert.Same(t, seen, resp.OSC())
}

func newConnectedLoop(t *testing.T, port int) *net.LoopTransport {
	t.Helper()
	loop := net.NewEventLoop()
	tr := net.NewLoopTransport(loop, net.WithName(t.Name()))
	require.NoError(t, loop.Run(context.Background(), func() error {
		return tr.Connect("127.0.0.1", port)
	}))
	t.Cleanup(func() {
		_ = loop.Run(context.Background(), func() error {
			tr.Disconnect()
			return nil
		})
		loop.Close()
		loop.Wait()
	})
	return tr
}

func TestCommunicateAsync(t *testing.T) {
	srv := newFakeServer(t)
	tr := newConnectedLoop(t, srv.port)

	require.NoError(t, tr.Loop().Run(context.Background(), func() error {
		resp, err := CommunicateAsync(context.Background(), tr, &AllocateBuffer{BufferID: 1, FrameCount: 512, ChannelCount: 1}, time.Second)
		if err != nil {
			return err
		}
		done, ok := resp.(*DoneInfo)
		require.True(t, ok, "got %T", resp)
		assert.Equal(t, []osc.Argument{osc.Int32(1)}, done.Other)
		assert.Equal(t, 0, tr.RegistrySize())
		return nil
	}))
}

func TestCommunicateAsyncTimeout(t *testing.T) {
	srv := newFakeServerWith(t, func(*osc.Message) *osc.Message { return nil })
	tr := newConnectedLoop(t, srv.port)

	require.NoError(t, tr.Loop().Run(context.Background(), func() error {
		resp, err := CommunicateAsync(context.Background(), tr, &AllocateBuffer{BufferID: 1}, 10*time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Nil(t, resp)
		assert.Equal(t, 0, tr.RegistrySize())
		return nil
	}))

	// a late reply finds nothing to resolve
	srv.send(t, osc.MustMessage("/done", "/b_alloc", 1))
}

func TestCommunicateAsyncZeroTimeout(t *testing.T) {
	srv := newFakeServerWith(t, func(*osc.Message) *osc.Message { return nil })
	tr := newConnectedLoop(t, srv.port)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, tr.Loop().Run(context.Background(), func() error {
			for _, timeout := range []time.Duration{0, -time.Second} {
				resp, err := CommunicateAsync(context.Background(), tr, &AllocateBuffer{BufferID: 1}, timeout)
				assert.ErrorIs(t, err, ErrTimeout)
				assert.Nil(t, resp)
				assert.Equal(t, 0, tr.RegistrySize())
			}
			return nil
		}))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CommunicateAsync with a zero timeout did not return")
	}
}

func TestCommunicateAsyncConcurrent(t *testing.T) {
	srv := newFakeServer(t)
	tr := newConnectedLoop(t, srv.port)
	loop := tr.Loop()

	results := make(chan int32, 3)
	var tasks []*net.Task
	require.NoError(t, loop.Run(context.Background(), func() error {
		for i := int32(1); i <= 3; i++ {
			id := i
			tasks = append(tasks, loop.Spawn(func(ctx context.Context) error {
				resp, err := CommunicateAsync(ctx, tr, &Sync{ID: id}, time.Second)
				if err != nil {
					return err
				}
				results <- resp.(*SyncedInfo).SyncID
				return nil
			}))
		}
		return nil
	}))

	for _, task := range tasks {
		select {
		case <-task.Done():
			assert.NoError(t, task.Err())
		case <-time.After(2 * time.Second):
			t.Fatal("request task did not finish")
		}
	}
	close(results)
	var got []int32
	for id := range results {
		got = append(got, id)
	}
	assert.ElementsMatch(t, []int32{1, 2, 3}, got)
}
