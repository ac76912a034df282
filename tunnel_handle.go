package libbox

import (
	"sync/atomic"

	E "github.com/sagernet/sing/common/exceptions"
	"golang.org/x/sys/unix"
)

// tunnelHandle owns a tun descriptor until it is detached. detach is the only
// way the descriptor leaves the handle, and it can succeed once.
type tunnelHandle struct {
	fd atomic.Int32
}

func newTunnelHandle(fd int32) *tunnelHandle {
	handle := &tunnelHandle{}
	handle.fd.Store(fd)
	return handle
}

func (h *tunnelHandle) FileDescriptor() int32 {
	return h.fd.Load()
}

func (h *tunnelHandle) validate() error {
	fd := h.fd.Load()
	if fd < 0 {
		return E.New("descriptor already detached")
	}
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return E.Cause(err, "fcntl ", fd)
	}
	return nil
}

// detach transfers ownership to the caller. After it returns true the handle
// never touches the descriptor again.
func (h *tunnelHandle) detach() (int32, bool) {
	fd := h.fd.Swap(-1)
	return fd, fd >= 0
}

// release closes the descriptor if it was never detached.
func (h *tunnelHandle) release() error {
	fd := h.fd.Swap(-1)
	if fd < 0 {
		return nil
	}
	return unix.Close(int(fd))
}
