package request

import (
	"github.com/lcx/scosc/net"
	"github.com/lcx/scosc/osc"
)

// AddAction positions a new node relative to its target.
type AddAction int32

const (
	AddToHead AddAction = iota
	AddToTail
	AddBefore
	AddAfter
	Replace
)

// Sync asks the server to answer /synced once every earlier asynchronous
// command has completed.
type Sync struct {
	ID int32
}

func (r *Sync) ToOSC() (osc.Packet, error) {
	return osc.NewMessage("/sync", r.ID)
}

func (r *Sync) ResponsePatterns() (success, failure net.Pattern) {
	return net.MustPattern("/synced", r.ID), nil
}

// AllocateBuffer allocates a zeroed buffer. Completion, when set, is run by
// the server once the buffer exists.
type AllocateBuffer struct {
	BufferID     int32
	FrameCount   int32
	ChannelCount int32
	Completion   Requestable
}

func (r *AllocateBuffer) ToOSC() (osc.Packet, error) {
	args := []any{r.BufferID, r.FrameCount, r.ChannelCount}
	if r.Completion != nil {
		p, err := r.Completion.ToOSC()
		if err != nil {
			return nil, err
		}
		args = append(args, p)
	}
	return osc.NewMessage("/b_alloc", args...)
}

func (r *AllocateBuffer) ResponsePatterns() (success, failure net.Pattern) {
	return net.MustPattern("/done", "/b_alloc", r.BufferID), net.MustPattern("/fail", "/b_alloc")
}

// FreeBuffer frees a buffer.
type FreeBuffer struct {
	BufferID   int32
	Completion Requestable
}

func (r *FreeBuffer) ToOSC() (osc.Packet, error) {
	args := []any{r.BufferID}
	if r.Completion != nil {
		p, err := r.Completion.ToOSC()
		if err != nil {
			return nil, err
		}
		args = append(args, p)
	}
	return osc.NewMessage("/b_free", args...)
}

func (r *FreeBuffer) ResponsePatterns() (success, failure net.Pattern) {
	return net.MustPattern("/done", "/b_free", r.BufferID), net.MustPattern("/fail", "/b_free")
}

// QueryStatus asks for the server's load and node counts.
type QueryStatus struct{}

func (*QueryStatus) ToOSC() (osc.Packet, error) {
	return osc.NewMessage("/status")
}

func (*QueryStatus) ResponsePatterns() (success, failure net.Pattern) {
	return net.MustPattern("/status.reply"), nil
}

// QueryVersion asks for the server's version.
type QueryVersion struct{}

func (*QueryVersion) ToOSC() (osc.Packet, error) {
	return osc.NewMessage("/version")
}

func (*QueryVersion) ResponsePatterns() (success, failure net.Pattern) {
	return net.MustPattern("/version.reply"), nil
}

// ToggleNotifications subscribes to or unsubscribes from node
// notifications.
type ToggleNotifications struct {
	On bool
}

func (r *ToggleNotifications) ToOSC() (osc.Packet, error) {
	flag := 0
	if r.On {
		flag = 1
	}
	return osc.NewMessage("/notify", flag)
}

func (r *ToggleNotifications) ResponsePatterns() (success, failure net.Pattern) {
	return net.MustPattern("/done", "/notify"), net.MustPattern("/fail", "/notify")
}

// Quit shuts the server down.
type Quit struct{}

func (*Quit) ToOSC() (osc.Packet, error) {
	return osc.NewMessage("/quit")
}

func (*Quit) ResponsePatterns() (success, failure net.Pattern) {
	return net.MustPattern("/done", "/quit"), nil
}

// NewGroup creates a group. The server does not answer it.
type NewGroup struct {
	NodeID    int32
	AddAction AddAction
	TargetID  int32
}

func (r *NewGroup) ToOSC() (osc.Packet, error) {
	return osc.NewMessage("/g_new", r.NodeID, r.AddAction, r.TargetID)
}

// FreeNode frees nodes. The server does not answer it.
type FreeNode struct {
	NodeIDs []int32
}

func (r *FreeNode) ToOSC() (osc.Packet, error) {
	args := make([]any, 0, len(r.NodeIDs))
	for _, id := range r.NodeIDs {
		args = append(args, id)
	}
	return osc.NewMessage("/n_free", args...)
}
