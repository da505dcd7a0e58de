package decoder

import (
	"fmt"
	"time"

	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"

	"firestige.xyz/dissect/internal/core"
)

const (
	defaultFragmentTimeout = 30 * time.Second
	// expiry runs once per this many fragments
	expireEvery = 1024
)

// defragmenter reassembles IPv4 datagrams. Fragments older than the timeout,
// measured in capture time, are discarded.
type defragmenter struct {
	ip4     *ip4defrag.IPv4Defragmenter
	timeout time.Duration
	seen    int
}

func newDefragmenter(timeout time.Duration) *defragmenter {
	if timeout <= 0 {
		timeout = defaultFragmentTimeout
	}
	return &defragmenter{ip4: ip4defrag.NewIPv4Defragmenter(), timeout: timeout}
}

// add stores a copy of the fragment and returns the whole datagram once it
// is complete, or core.ErrFragmentPending.
func (f *defragmenter) add(frag *layers.IPv4, ts time.Time) (*layers.IPv4, error) {
	f.seen++
	if f.seen%expireEvery == 0 {
		f.ip4.DiscardOlderThan(ts.Add(-f.timeout))
	}
	// the defragmenter keeps the layer it is given
	held := *frag
	whole, err := f.ip4.DefragIPv4WithTimestamp(&held, ts)
	if err != nil {
		return nil, fmt.Errorf("ipv4 defragment: %w", err)
	}
	if whole == nil {
		return nil, core.ErrFragmentPending
	}
	return whole, nil
}
