//go:build linux

package connectivity

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// watchLinks subscribes to rtnetlink link and address groups and calls fn
// on every up/down transition. If the socket cannot be opened it falls back
// to polling.
func watchLinks(ctx context.Context, poll time.Duration, fn func(up bool)) error {
	fd, err := openNetlink()
	if err != nil {
		return pollLinks(ctx, poll, fn)
	}
	defer unix.Close(fd)

	tracker := newLinkTracker(fn)
	buf := make([]byte, 8192)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("failed to read netlink socket: %w", err)
		}

		if linkMessage(buf[:n]) {
			tracker.check()
		}
	}
}

// linkMessage reports whether b holds any link or address message.
func linkMessage(b []byte) bool {
	for len(b) >= unix.SizeofNlMsghdr {
		length := binary.NativeEndian.Uint32(b[0:4])
		typ := binary.NativeEndian.Uint16(b[4:6])
		if length < unix.SizeofNlMsghdr || int(length) > len(b) {
			return false
		}
		switch typ {
		case unix.RTM_NEWLINK, unix.RTM_DELLINK, unix.RTM_NEWADDR, unix.RTM_DELADDR:
			return true
		}
		// Messages are 4-byte aligned.
		next := (int(length) + unix.NLMSG_ALIGNTO - 1) &^ (unix.NLMSG_ALIGNTO - 1)
		if next > len(b) {
			return false
		}
		b = b[next:]
	}
	return false
}

func openNetlink() (int, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return -1, fmt.Errorf("failed to open netlink socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: unix.RTMGRP_LINK | unix.RTMGRP_IPV4_IFADDR | unix.RTMGRP_IPV6_IFADDR,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to bind netlink socket: %w", err)
	}

	// Wake up periodically so cancellation is noticed.
	tv := unix.NsecToTimeval(int64(500 * time.Millisecond))
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to set netlink timeout: %w", err)
	}

	return fd, nil
}
