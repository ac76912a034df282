package libbox

import (
	"strings"
	"time"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"
	"github.com/sagernet/sing/common/json/badoption"
)

type serviceOptions struct {
	Tunnel tunnelOptions `json:"tunnel,omitempty"`
	Worker workerOptions `json:"worker,omitempty"`
	Tile   tileOptions   `json:"tile,omitempty"`
	Log    logOptions    `json:"log,omitempty"`
}

// tunnelOptions are the defaults used for fields an open request leaves out,
// plus the best-effort additions that are never part of a request.
type tunnelOptions struct {
	MTU          int32                      `json:"mtu,omitempty"`
	Inet4Address string                     `json:"inet4_address,omitempty"`
	Inet4Route   string                     `json:"inet4_route,omitempty"`
	Inet6Address string                     `json:"inet6_address,omitempty"`
	Inet6Route   string                     `json:"inet6_route,omitempty"`
	DisableIPv6  bool                       `json:"disable_ipv6,omitempty"`
	DNSServers   badoption.Listable[string] `json:"dns_servers,omitempty"`
	Session      string                     `json:"session,omitempty"`
}

type workerOptions struct {
	GracePeriod  badoption.Duration `json:"grace_period,omitempty"`
	RefreshDelay badoption.Duration `json:"refresh_delay,omitempty"`
}

type tileOptions struct {
	ClickRefreshDelay badoption.Duration `json:"click_refresh_delay,omitempty"`
}

type logOptions struct {
	MaxLines int32 `json:"max_lines,omitempty"`
}

const (
	defaultGracePeriod       = 2 * time.Second
	defaultRefreshDelay      = 1500 * time.Millisecond
	defaultClickRefreshDelay = 800 * time.Millisecond
)

func parseConfig(configContent string) (*serviceOptions, error) {
	var options serviceOptions
	if strings.TrimSpace(configContent) != "" {
		var err error
		options, err = json.UnmarshalExtended[serviceOptions]([]byte(configContent))
		if err != nil {
			return nil, E.Cause(err, "parse config")
		}
	}
	if options.Worker.RefreshDelay > 0 && options.Worker.GracePeriod > 0 &&
		options.Worker.RefreshDelay >= options.Worker.GracePeriod {
		return nil, E.New("refresh_delay must be shorter than grace_period")
	}
	options.applyDefaults()
	return &options, nil
}

func (o *serviceOptions) applyDefaults() {
	if o.Tunnel.MTU <= 0 {
		o.Tunnel.MTU = DefaultTunnelMTU
	}
	if o.Tunnel.Inet4Address == "" {
		o.Tunnel.Inet4Address = DefaultInet4Address
	}
	if o.Tunnel.Inet4Route == "" {
		o.Tunnel.Inet4Route = DefaultInet4Route
	}
	if o.Tunnel.Inet6Address == "" {
		o.Tunnel.Inet6Address = DefaultInet6Address
	}
	if o.Tunnel.Inet6Route == "" {
		o.Tunnel.Inet6Route = DefaultInet6Route
	}
	if len(o.Tunnel.DNSServers) == 0 {
		o.Tunnel.DNSServers = []string{DefaultDNSServer}
	}
	if o.Tunnel.Session == "" {
		o.Tunnel.Session = DefaultSessionLabel
	}
	if o.Worker.GracePeriod <= 0 {
		o.Worker.GracePeriod = badoption.Duration(defaultGracePeriod)
	}
	if o.Worker.RefreshDelay <= 0 {
		o.Worker.RefreshDelay = badoption.Duration(defaultRefreshDelay)
	}
	if o.Worker.RefreshDelay >= o.Worker.GracePeriod {
		o.Worker.RefreshDelay = o.Worker.GracePeriod / 2
	}
	if o.Tile.ClickRefreshDelay <= 0 {
		o.Tile.ClickRefreshDelay = badoption.Duration(defaultClickRefreshDelay)
	}
	if o.Log.MaxLines <= 0 {
		o.Log.MaxLines = DefaultMaxLogLines
	}
}

func CheckConfig(configContent string) error {
	_, err := parseConfig(configContent)
	return err
}
