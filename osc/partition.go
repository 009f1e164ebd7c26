package osc

// DefaultMaxDatagramBytes is the default size budget of one bundle datagram.
const DefaultMaxDatagramBytes = 8192 - 8 - 4

// Partition packs messages, in order, into as few bundles as possible so
// that no encoded bundle exceeds maxDatagramBytes. A message too large to
// fit any bundle is placed in a bundle of its own. A non-positive budget
// selects DefaultMaxDatagramBytes.
func Partition(messages []*Message, ts Timestamp, maxDatagramBytes int) ([]*Bundle, error) {
	if maxDatagramBytes <= 0 {
		maxDatagramBytes = DefaultMaxDatagramBytes
	}
	var (
		bundles []*Bundle
		current []Packet
		size    = bundleHeaderSize
	)
	for _, msg := range messages {
		raw, err := msg.MarshalBinary()
		if err != nil {
			return nil, err
		}
		n := bit32Size + len(raw)
		if len(current) > 0 && size+n > maxDatagramBytes {
			bundles = append(bundles, NewBundle(ts, current...))
			current, size = nil, bundleHeaderSize
		}
		current = append(current, msg)
		size += n
	}
	if len(current) > 0 {
		bundles = append(bundles, NewBundle(ts, current...))
	}
	return bundles, nil
}
