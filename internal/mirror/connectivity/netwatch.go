package connectivity

import (
	"net"
)

// linkUp reports whether any non-loopback interface is up, running and has
// an address.
func linkUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		return true
	}
	return false
}

// linkTracker turns raw "something changed" signals into up/down
// transitions.
type linkTracker struct {
	up bool
	fn func(up bool)
}

func newLinkTracker(fn func(up bool)) *linkTracker {
	return &linkTracker{up: linkUp(), fn: fn}
}

func (t *linkTracker) check() {
	up := linkUp()
	if up == t.up {
		return
	}
	t.up = up
	t.fn(up)
}
