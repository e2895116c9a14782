//go:build linux

package connectivity

import (
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"
)

func netlinkMsg(typ uint16, payload int) []byte {
	length := unix.SizeofNlMsghdr + payload
	b := make([]byte, (length+3)&^3)
	binary.NativeEndian.PutUint32(b[0:4], uint32(length))
	binary.NativeEndian.PutUint16(b[4:6], typ)
	return b
}

func TestLinkMessage(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{name: "new link", buf: netlinkMsg(unix.RTM_NEWLINK, 16), want: true},
		{name: "del addr", buf: netlinkMsg(unix.RTM_DELADDR, 8), want: true},
		{name: "route only", buf: netlinkMsg(unix.RTM_NEWROUTE, 12), want: false},
		{name: "route then link", buf: append(netlinkMsg(unix.RTM_NEWROUTE, 5), netlinkMsg(unix.RTM_NEWLINK, 0)...), want: true},
		{name: "short", buf: []byte{1, 2, 3}, want: false},
		{name: "bad length", buf: func() []byte {
			b := netlinkMsg(unix.RTM_NEWLINK, 0)
			binary.NativeEndian.PutUint32(b[0:4], 4)
			return b
		}(), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := linkMessage(tt.buf); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
