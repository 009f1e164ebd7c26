package net

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/scosc/osc"
	"github.com/lcx/scosc/utils"
)

// udpPeer stands in for the server: it records every message it receives
// and answers through respond.
type udpPeer struct {
	t       *testing.T
	conn    *net.UDPConn
	port    int
	respond func(msg *osc.Message) []osc.Packet

	mu       sync.Mutex
	received []*osc.Message
	client   *net.UDPAddr
}

func newUDPPeer(t *testing.T, respond func(msg *osc.Message) []osc.Packet) *udpPeer {
	t.Helper()
	port, err := utils.FindFreePort()
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)

	p := &udpPeer{t: t, conn: conn, port: port, respond: respond}
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.serve()
	}()
	t.Cleanup(func() {
		_ = conn.Close()
		<-done
	})
	return p
}

// statusResponder answers /status like the server does.
func statusResponder(msg *osc.Message) []osc.Packet {
	if msg.Address == osc.String("/status") {
		return []osc.Packet{osc.MustMessage("/status.reply", 1, 0, 0, 2, 4, 0.5, 0.7, 44100.0, 44100.0)}
	}
	return nil
}

func (p *udpPeer) serve() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
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

		p.mu.Lock()
		p.client = addr
		p.received = append(p.received, msgs...)
		p.mu.Unlock()

		if p.respond == nil {
			continue
		}
		for _, msg := range msgs {
			for _, reply := range p.respond(msg) {
				p.sendTo(addr, reply)
			}
		}
	}
}

func (p *udpPeer) sendTo(addr *net.UDPAddr, pkt osc.Packet) {
	datagram, err := pkt.MarshalBinary()
	if !assert.NoError(p.t, err) {
		return
	}
	if _, err = p.conn.WriteToUDP(datagram, addr); !errors.Is(err, net.ErrClosed) {
		assert.NoError(p.t, err)
	}
}

// send writes a packet to the last client heard from.
func (p *udpPeer) send(pkt osc.Packet) {
	p.mu.Lock()
	addr := p.client
	p.mu.Unlock()
	require.NotNil(p.t, addr, "peer has not heard from the client yet")
	p.sendTo(addr, pkt)
}

func (p *udpPeer) sendRaw(datagram []byte) {
	p.mu.Lock()
	addr := p.client
	p.mu.Unlock()
	require.NotNil(p.t, addr, "peer has not heard from the client yet")
	_, err := p.conn.WriteToUDP(datagram, addr)
	require.NoError(p.t, err)
}

func (p *udpPeer) messages() []*osc.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*osc.Message, len(p.received))
	copy(out, p.received)
	return out
}

// count returns how many received messages have the given address.
func (p *udpPeer) count(address string) int {
	n := 0
	for _, msg := range p.messages() {
		if msg.Address == osc.String(address) {
			n++
		}
	}
	return n
}

// waitFor blocks until the peer has received n messages with the address.
func (p *udpPeer) waitFor(address string, n int) {
	p.t.Helper()
	require.Eventually(p.t, func() bool {
		return p.count(address) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s", n, address)
}

// recvMessage waits for a message on ch.
func recvMessage(t *testing.T, ch <-chan *osc.Message) *osc.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a callback")
		return nil
	}
}

// waitFuture waits for f and returns its value.
func waitFuture(t *testing.T, f *Future[bool]) bool {
	t.Helper()
	select {
	case <-f.Done():
		v, _ := f.Value()
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a future")
		return false
	}
}
