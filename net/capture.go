package net

import (
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/lcx/scosc/osc"
)

// CaptureLabel tells which way a captured packet travelled.
type CaptureLabel string

const (
	Sent     CaptureLabel = "S"
	Received CaptureLabel = "R"
)

// CaptureEntry is one recorded packet.
type CaptureEntry struct {
	Timestamp time.Time
	Label     CaptureLabel
	Packet    osc.Packet
}

// Capture records the packets a transport sends and receives between Enter
// and Exit. It is safe to read while the transport records into it.
type Capture struct {
	set     *captureSet
	mu      sync.Mutex
	entries []CaptureEntry
}

// Enter clears the capture and starts recording.
func (c *Capture) Enter() *Capture {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
	c.set.add(c)
	return c
}

// Exit stops recording. Recorded entries stay readable.
func (c *Capture) Exit() {
	c.set.remove(c)
}

// Len returns the number of recorded entries.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of every recorded entry, in order.
func (c *Capture) Entries() []CaptureEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// SentMessages returns the entries labelled Sent.
func (c *Capture) SentMessages() []CaptureEntry {
	return c.labelled(Sent)
}

// ReceivedMessages returns the entries labelled Received.
func (c *Capture) ReceivedMessages() []CaptureEntry {
	return c.labelled(Received)
}

func (c *Capture) labelled(label CaptureLabel) []CaptureEntry {
	var out []CaptureEntry
	for _, e := range c.Entries() {
		if e.Label == label {
			out = append(out, e)
		}
	}
	return out
}

// Filtered returns the recorded packets, leaving out sent ones unless sent
// is set and received ones unless received is set. Unless status is set,
// /status and /status.reply messages are dropped too.
func (c *Capture) Filtered(sent, received, status bool) []osc.Packet {
	var out []osc.Packet
	for _, e := range c.Entries() {
		if (e.Label == Sent && !sent) || (e.Label == Received && !received) {
			continue
		}
		if !status && isStatusTraffic(e.Packet) {
			continue
		}
		out = append(out, e.Packet)
	}
	return out
}

func isStatusTraffic(p osc.Packet) bool {
	msg, ok := p.(*osc.Message)
	if !ok {
		return false
	}
	addr, ok := msg.Address.(osc.String)
	return ok && (addr == "/status" || addr == "/status.reply")
}

// captureSet holds the captures currently recording for one transport.
type captureSet struct {
	clock    clock.Clock
	mu       sync.Mutex
	captures map[*Capture]struct{}
}

func newCaptureSet(clk clock.Clock) *captureSet {
	return &captureSet{clock: clk, captures: make(map[*Capture]struct{})}
}

func (s *captureSet) newCapture() *Capture {
	return (&Capture{set: s}).Enter()
}

func (s *captureSet) add(c *Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures[c] = struct{}{}
}

func (s *captureSet) remove(c *Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.captures, c)
}

func (s *captureSet) record(label CaptureLabel, p osc.Packet) {
	s.mu.Lock()
	if len(s.captures) == 0 {
		s.mu.Unlock()
		return
	}
	active := make([]*Capture, 0, len(s.captures))
	for c := range s.captures {
		active = append(active, c)
	}
	s.mu.Unlock()

	entry := CaptureEntry{Timestamp: s.clock.Now(), Label: label, Packet: p}
	for _, c := range active {
		c.mu.Lock()
		c.entries = append(c.entries, entry)
		c.mu.Unlock()
	}
}
