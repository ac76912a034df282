package libbox

import (
	"context"
	"sync"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

// permissionGate keeps at most one system permission dialog outstanding and
// fans its result out to every caller waiting on it.
type permissionGate struct {
	platform PermissionPlatform
	logger   logger.Logger

	access    sync.Mutex
	prompting bool
	waiters   []chan bool
}

func newPermissionGate(platform PermissionPlatform, logger logger.Logger) *permissionGate {
	return &permissionGate{
		platform: platform,
		logger:   logger,
	}
}

func (g *permissionGate) Granted() bool {
	return g.platform.VPNPermissionGranted()
}

// Request shows the dialog unless one is already showing. It does not wait.
func (g *permissionGate) Request() error {
	g.access.Lock()
	if g.prompting {
		g.access.Unlock()
		return nil
	}
	g.prompting = true
	g.access.Unlock()
	err := g.platform.RequestVPNPermission()
	if err != nil {
		g.resolve(false)
		return E.Cause(err, "request vpn permission")
	}
	return nil
}

// Await reports whether permission is granted, prompting and blocking until
// the user decides when it is not. There is no timeout; only ctx ends the wait.
func (g *permissionGate) Await(ctx context.Context) bool {
	if g.Granted() {
		return true
	}
	waiter := make(chan bool, 1)
	g.access.Lock()
	g.waiters = append(g.waiters, waiter)
	g.access.Unlock()
	err := g.Request()
	if err != nil {
		g.logger.Error(err)
	}
	select {
	case granted := <-waiter:
		return granted
	case <-ctx.Done():
		return false
	}
}

func (g *permissionGate) resolve(granted bool) {
	g.access.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.prompting = false
	g.access.Unlock()
	for _, waiter := range waiters {
		waiter <- granted
	}
}
