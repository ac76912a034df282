package libbox

const (
	CommandLog int32 = iota
	CommandStatus
	CommandTileAction
	CommandRefreshStatus
)

const (
	ActionVPNOn     = "ACTION_VPN_ON"
	ActionVPNOff    = "ACTION_VPN_OFF"
	ActionVPNToggle = "ACTION_VPN_TOGGLE"
)

// Results of OpenTunnel at the bridge boundary. Non-negative values are descriptors.
const (
	OpenResultFailed   int32 = -1
	OpenResultNotBound int32 = -2
)

const (
	DefaultTunnelMTU      = 1500
	DefaultInet4Address   = "10.225.0.2/30"
	DefaultInet4Route     = "0.0.0.0/0"
	DefaultInet6Address   = "fdfe:dcba:9876::2/126"
	DefaultInet6Route     = "::/0"
	DefaultDNSServer      = "1.1.1.1"
	DefaultSessionLabel   = "Sing-Box VPN"
	DefaultMaxLogLines    = 300
	commandServerTCPAddr  = "127.0.0.1:8964"
	commandServerSockName = "command.sock"
)
