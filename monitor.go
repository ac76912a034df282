package libbox

import (
	"sync"

	"github.com/sagernet/sing/common/control"
	"github.com/sagernet/sing/common/logger"
)

var _ control.InterfaceFinder = (*networkManager)(nil)

type interfaceMonitorPlatform interface {
	StartDefaultInterfaceMonitor(listener InterfaceUpdateListener) error
	CloseDefaultInterfaceMonitor(listener InterfaceUpdateListener) error
}

// networkManager refreshes the status surface whenever the platform reports
// a default interface change, since a tunnel coming up or down shows as one.
type networkManager struct {
	control.DefaultInterfaceFinder
	iif     interfaceMonitorPlatform
	status  *StatusSurface
	logger  logger.Logger
	access  sync.Mutex
	started bool

	interfaceName  string
	interfaceIndex int32
}

func newNetworkManager(iif interfaceMonitorPlatform, status *StatusSurface, logger logger.Logger) *networkManager {
	return &networkManager{iif: iif, status: status, logger: logger}
}

func (m *networkManager) Start() error {
	m.access.Lock()
	defer m.access.Unlock()
	if m.started {
		return nil
	}
	err := m.iif.StartDefaultInterfaceMonitor(m)
	if err != nil {
		return err
	}
	m.started = true
	return nil
}

func (m *networkManager) Close() error {
	m.access.Lock()
	defer m.access.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	return m.iif.CloseDefaultInterfaceMonitor(m)
}

func (m *networkManager) UpdateDefaultInterface(interfaceName string, interfaceIndex int32, isExpensive bool, isConstrained bool) {
	_ = m.Update()
	m.access.Lock()
	changed := interfaceName != m.interfaceName || interfaceIndex != m.interfaceIndex
	if changed {
		m.interfaceName = interfaceName
		m.interfaceIndex = interfaceIndex
	}
	m.access.Unlock()
	if !changed {
		return
	}
	m.logger.Info("updated default interface ", interfaceName, ", index ", interfaceIndex, ", expensive ", isExpensive, ", constrained ", isConstrained)
	m.status.HandleRefreshSignal()
}
