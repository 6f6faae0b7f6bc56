package rcon

import "github.com/energizer-project/rconnect/internal/network"

// idAllocator hands out request ids in [first, max], wrapping back to
// first, and skips ids that are still pending.
type idAllocator struct {
	first, max, next uint32
}

func newIDAllocator(caps network.Caps) idAllocator {
	return idAllocator{first: caps.FirstID, max: caps.MaxID, next: caps.FirstID}
}

// take returns the next id for which inUse is false. It fails only when
// every id in the space is in use.
func (a *idAllocator) take(inUse func(uint32) bool) (uint32, bool) {
	span := uint64(a.max) - uint64(a.first) + 1
	for i := uint64(0); i < span; i++ {
		id := a.next
		if a.next == a.max {
			a.next = a.first
		} else {
			a.next++
		}
		if inUse == nil || !inUse(id) {
			return id, true
		}
	}
	return 0, false
}

// pendingLimit is the outstanding-request cap for caps. One id is always
// left free so wraparound can never land on a live request.
func pendingLimit(caps network.Caps, configured int) int {
	if caps.Serial {
		return 1
	}

	limit := 1024
	if caps.IDSpace() <= 256 {
		limit = 255
	}
	if configured > 0 {
		limit = configured
	}
	if space := caps.IDSpace() - 1; uint64(limit) > space {
		limit = int(space)
	}
	return limit
}
