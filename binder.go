package libbox

import (
	"sync"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

var ErrNotBound = E.New("tunnel service not bound")

// SessionBinder is the front-end's handle on the TunnelOwner. It is usable
// only between OnServiceConnected and OnServiceDisconnected.
type SessionBinder struct {
	platform ServicePlatform
	logger   logger.Logger

	access    sync.Mutex
	requested bool
	owner     *TunnelOwner
}

func newSessionBinder(platform ServicePlatform, logger logger.Logger) *SessionBinder {
	return &SessionBinder{
		platform: platform,
		logger:   logger,
	}
}

func (b *SessionBinder) Bind() (bool, error) {
	b.access.Lock()
	if b.owner != nil {
		b.access.Unlock()
		return true, nil
	}
	b.access.Unlock()
	ok, err := b.platform.BindTunnelService()
	if err != nil {
		return false, E.Cause(err, "bind tunnel service")
	}
	b.access.Lock()
	b.requested = ok
	b.access.Unlock()
	return ok, nil
}

func (b *SessionBinder) Unbind() error {
	b.access.Lock()
	wasBound := b.requested || b.owner != nil
	b.requested = false
	b.owner = nil
	b.access.Unlock()
	if !wasBound {
		return nil
	}
	return b.platform.UnbindTunnelService()
}

func (b *SessionBinder) OnServiceConnected(owner *TunnelOwner) {
	b.access.Lock()
	defer b.access.Unlock()
	b.owner = owner
	b.logger.Debug("tunnel service connected")
}

func (b *SessionBinder) OnServiceDisconnected() {
	b.access.Lock()
	defer b.access.Unlock()
	b.owner = nil
	b.logger.Debug("tunnel service disconnected")
}

func (b *SessionBinder) IsBound() bool {
	b.access.Lock()
	defer b.access.Unlock()
	return b.owner != nil
}

// Open fails with ErrNotBound before the bind handshake completes, so callers
// can tell a missing connection from an establishment failure.
func (b *SessionBinder) Open(config *TunnelConfig) (int32, error) {
	b.access.Lock()
	owner := b.owner
	b.access.Unlock()
	if owner == nil {
		b.logger.Warn("open tunnel called before service bound")
		return OpenResultNotBound, ErrNotBound
	}
	return owner.Open(config)
}

func (b *SessionBinder) Close() {
	b.access.Lock()
	owner := b.owner
	b.access.Unlock()
	if owner != nil {
		owner.Close()
	}
}
