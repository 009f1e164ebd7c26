package request

import (
	"fmt"
	"sync"

	"github.com/lcx/scosc/osc"
)

// Response is a server reply decoded from one message.
type Response interface {
	// OSC returns the message the response was decoded from.
	OSC() *osc.Message
}

type raw struct {
	msg *osc.Message
}

func (r raw) OSC() *osc.Message {
	return r.msg
}

// DoneInfo answers an asynchronous command that completed.
type DoneInfo struct {
	raw
	CommandName string
	Other       []osc.Argument
}

// FailInfo answers a command that failed.
type FailInfo struct {
	raw
	CommandName string
	Error       string
	Other       []osc.Argument
}

// SyncedInfo answers Sync.
type SyncedInfo struct {
	raw
	SyncID int32
}

// StatusInfo answers QueryStatus.
type StatusInfo struct {
	raw
	UGenCount        int32
	SynthCount       int32
	GroupCount       int32
	SynthDefCount    int32
	AverageCPU       float64
	PeakCPU          float64
	TargetSampleRate float64
	ActualSampleRate float64
}

// VersionInfo answers QueryVersion.
type VersionInfo struct {
	raw
	ProgramName  string
	MajorVersion int32
	MinorVersion int32
	PatchVersion string
	Branch       string
	CommitID     string
}

// TriggerInfo is sent by a SendTrig unit generator.
type TriggerInfo struct {
	raw
	NodeID    int32
	TriggerID int32
	Value     float64
}

// NodeInfo is a node notification or a /n_query reply.
type NodeInfo struct {
	raw
	// Action is the notification address, such as "/n_go".
	Action     string
	NodeID     int32
	ParentID   int32
	PreviousID int32
	NextID     int32
	IsGroup    bool
	// HeadID and TailID are set for groups only.
	HeadID int32
	TailID int32
}

// BufferInfo answers /b_query, one item per queried buffer.
type BufferInfo struct {
	raw
	Items []BufferInfoItem
}

type BufferInfoItem struct {
	BufferID     int32
	FrameCount   int32
	ChannelCount int32
	SampleRate   float64
}

// SynthDefRemovedInfo reports a freed synth definition.
type SynthDefRemovedInfo struct {
	raw
	Name string
}

// GenericResponse carries a message no decoder is registered for.
type GenericResponse struct {
	raw
}

// Decoder turns a message into a Response.
type Decoder func(msg *osc.Message) (Response, error)

var (
	decodersMu sync.RWMutex
	decoders   = map[string]Decoder{
		"/done":          decodeDone,
		"/fail":          decodeFail,
		"/synced":        decodeSynced,
		"/status.reply":  decodeStatus,
		"/version.reply": decodeVersion,
		"/tr":            decodeTrigger,
		"/n_go":          decodeNode,
		"/n_end":         decodeNode,
		"/n_off":         decodeNode,
		"/n_on":          decodeNode,
		"/n_move":        decodeNode,
		"/n_info":        decodeNode,
		"/b_info":        decodeBufferInfo,
		"/d_removed":     decodeSynthDefRemoved,
	}
)

// RegisterDecoder installs d for messages sent to address, replacing any
// decoder already registered for it.
func RegisterDecoder(address string, d Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[address] = d
}

// DecodeResponse decodes msg with the decoder registered for its address.
// Messages without one decode to *GenericResponse.
func DecodeResponse(msg *osc.Message) (Response, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedResponse)
	}
	var d Decoder
	if addr, ok := msg.Address.(osc.String); ok {
		decodersMu.RLock()
		d = decoders[string(addr)]
		decodersMu.RUnlock()
	}
	if d == nil {
		return &GenericResponse{raw{msg}}, nil
	}
	resp, err := d(msg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Address, err)
	}
	return resp, nil
}

// args reads positional arguments, remembering the first failure.
type args struct {
	list []osc.Argument
	err  error
}

func (a *args) at(i int) osc.Argument {
	if a.err != nil {
		return nil
	}
	if i >= len(a.list) {
		a.err = fmt.Errorf("%w: missing argument %d", ErrMalformedResponse, i)
		return nil
	}
	return a.list[i]
}

func (a *args) intAt(i int) int32 {
	switch v := a.at(i).(type) {
	case osc.Int32:
		return int32(v)
	case osc.Float32:
		return int32(v)
	case osc.Float64:
		return int32(v)
	case nil:
		return 0
	default:
		a.err = fmt.Errorf("%w: argument %d is %T, want a number", ErrMalformedResponse, i, v)
		return 0
	}
}

func (a *args) floatAt(i int) float64 {
	switch v := a.at(i).(type) {
	case osc.Int32:
		return float64(v)
	case osc.Float32:
		return float64(v)
	case osc.Float64:
		return float64(v)
	case nil:
		return 0
	default:
		a.err = fmt.Errorf("%w: argument %d is %T, want a number", ErrMalformedResponse, i, v)
		return 0
	}
}

func (a *args) stringAt(i int) string {
	switch v := a.at(i).(type) {
	case osc.String:
		return string(v)
	case nil:
		return ""
	default:
		a.err = fmt.Errorf("%w: argument %d is %T, want a string", ErrMalformedResponse, i, v)
		return ""
	}
}

func tail(list []osc.Argument, from int) []osc.Argument {
	if from >= len(list) {
		return nil
	}
	return list[from:]
}

func decodeDone(msg *osc.Message) (Response, error) {
	a := &args{list: msg.Arguments}
	r := &DoneInfo{raw: raw{msg}, CommandName: a.stringAt(0), Other: tail(msg.Arguments, 1)}
	return r, a.err
}

func decodeFail(msg *osc.Message) (Response, error) {
	a := &args{list: msg.Arguments}
	r := &FailInfo{raw: raw{msg}, CommandName: a.stringAt(0)}
	if len(msg.Arguments) > 1 {
		r.Error = a.stringAt(1)
	}
	r.Other = tail(msg.Arguments, 2)
	return r, a.err
}

func decodeSynced(msg *osc.Message) (Response, error) {
	a := &args{list: msg.Arguments}
	r := &SyncedInfo{raw: raw{msg}, SyncID: a.intAt(0)}
	return r, a.err
}

func decodeStatus(msg *osc.Message) (Response, error) {
	a := &args{list: msg.Arguments}
	// argument 0 is unused
	r := &StatusInfo{
		raw:              raw{msg},
		UGenCount:        a.intAt(1),
		SynthCount:       a.intAt(2),
		GroupCount:       a.intAt(3),
		SynthDefCount:    a.intAt(4),
		AverageCPU:       a.floatAt(5),
		PeakCPU:          a.floatAt(6),
		TargetSampleRate: a.floatAt(7),
		ActualSampleRate: a.floatAt(8),
	}
	return r, a.err
}

func decodeVersion(msg *osc.Message) (Response, error) {
	a := &args{list: msg.Arguments}
	r := &VersionInfo{
		raw:          raw{msg},
		ProgramName:  a.stringAt(0),
		MajorVersion: a.intAt(1),
		MinorVersion: a.intAt(2),
		PatchVersion: a.stringAt(3),
		Branch:       a.stringAt(4),
		CommitID:     a.stringAt(5),
	}
	return r, a.err
}

func decodeTrigger(msg *osc.Message) (Response, error) {
	a := &args{list: msg.Arguments}
	r := &TriggerInfo{raw: raw{msg}, NodeID: a.intAt(0), TriggerID: a.intAt(1), Value: a.floatAt(2)}
	return r, a.err
}

func decodeNode(msg *osc.Message) (Response, error) {
	a := &args{list: msg.Arguments}
	r := &NodeInfo{
		raw:        raw{msg},
		Action:     string(msg.Address.(osc.String)),
		NodeID:     a.intAt(0),
		ParentID:   a.intAt(1),
		PreviousID: a.intAt(2),
		NextID:     a.intAt(3),
		IsGroup:    a.intAt(4) == 1,
	}
	if r.IsGroup {
		r.HeadID = a.intAt(5)
		r.TailID = a.intAt(6)
	}
	return r, a.err
}

func decodeBufferInfo(msg *osc.Message) (Response, error) {
	if len(msg.Arguments)%4 != 0 {
		return nil, fmt.Errorf("%w: %d arguments, want groups of 4", ErrMalformedResponse, len(msg.Arguments))
	}
	a := &args{list: msg.Arguments}
	r := &BufferInfo{raw: raw{msg}}
	for i := 0; i < len(msg.Arguments); i += 4 {
		r.Items = append(r.Items, BufferInfoItem{
			BufferID:     a.intAt(i),
			FrameCount:   a.intAt(i + 1),
			ChannelCount: a.intAt(i + 2),
			SampleRate:   a.floatAt(i + 3),
		})
	}
	return r, a.err
}

func decodeSynthDefRemoved(msg *osc.Message) (Response, error) {
	a := &args{list: msg.Arguments}
	r := &SynthDefRemovedInfo{raw: raw{msg}, Name: a.stringAt(0)}
	return r, a.err
}
