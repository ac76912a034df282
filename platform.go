package libbox

type PlatformInterface interface {
	TunnelPlatform
	ConnectivityQuery
	PermissionPlatform
	FrontendPlatform
	ServicePlatform
	TilePlatform
	WriteLog(message string)
	StartDefaultInterfaceMonitor(listener InterfaceUpdateListener) error
	CloseDefaultInterfaceMonitor(listener InterfaceUpdateListener) error
}

type TunnelPlatform interface {
	PackageName() string
	NewTunBuilder() (TunBuilder, error)
	StartForeground(title string) error
	StopForeground() error
}

// TunBuilder mirrors the platform VPN builder. The descriptor returned by
// Establish belongs to the caller.
type TunBuilder interface {
	SetSession(session string) error
	SetMTU(mtu int32) error
	AddAddress(address string, prefixLength int32) error
	AddRoute(address string, prefixLength int32) error
	AddDNSServer(address string) error
	AddDisallowedApplication(packageName string) error
	Establish() (int32, error)
}

type ConnectivityQuery interface {
	TunnelActive() (bool, error)
}

type PermissionPlatform interface {
	VPNPermissionGranted() bool
	RequestVPNPermission() error
	PostPermissionNotification(action string) error
}

type FrontendPlatform interface {
	LaunchFrontend(action string) error
	MoveTaskToBack() error
	DeliverAction(action string)
}

type ServicePlatform interface {
	BindTunnelService() (bool, error)
	UnbindTunnelService() error
}

type TilePlatform interface {
	UpdateTileState(active bool) error
	StartActionWorker(action string) error
}

type InterfaceUpdateListener interface {
	UpdateDefaultInterface(interfaceName string, interfaceIndex int32, isExpensive bool, isConstrained bool)
}
