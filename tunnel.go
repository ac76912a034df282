package libbox

import (
	"net/netip"
	"sync"

	"github.com/sagernet/sing-tun"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

var ErrEstablishRefused = E.New("tun establishment refused")

// TunnelConfig is built per open request. Zero or malformed fields fall back
// to the service defaults.
type TunnelConfig struct {
	MTU          int32
	Inet4Address string
	Inet4Route   string
	Session      string
}

type TunnelOwner struct {
	platform TunnelPlatform
	defaults tunnelOptions
	logger   logger.Logger

	access sync.Mutex
	open   bool
}

func newTunnelOwner(platform TunnelPlatform, defaults tunnelOptions, logger logger.Logger) *TunnelOwner {
	return &TunnelOwner{
		platform: platform,
		defaults: defaults,
		logger:   logger,
	}
}

// Open establishes the interface and returns its raw descriptor. The caller
// becomes the only owner of that descriptor.
func (o *TunnelOwner) Open(config *TunnelConfig) (int32, error) {
	o.access.Lock()
	defer o.access.Unlock()
	if config == nil {
		config = &TunnelConfig{}
	}
	options := o.buildOptions(config)
	err := o.platform.StartForeground(options.Name)
	if err != nil {
		o.logger.Warn("start foreground: ", err)
	}
	fd, err := o.establish(&options)
	if err != nil {
		err = E.Cause(err, "open tun")
		o.logger.Error(err)
		if !o.open {
			o.stopForeground()
		}
		return OpenResultFailed, err
	}
	if o.open {
		o.logger.Info("replacing open tun, previous descriptor stays with its owner")
	}
	o.open = true
	o.logger.Info("tun established fd=", fd, " mtu=", options.MTU, " session=", options.Name)
	return fd, nil
}

func (o *TunnelOwner) establish(options *tun.Options) (int32, error) {
	builder, err := o.platform.NewTunBuilder()
	if err != nil {
		return OpenResultFailed, E.Cause(err, "create builder")
	}
	err = o.applyOptions(builder, options)
	if err != nil {
		return OpenResultFailed, err
	}
	fd, err := builder.Establish()
	if err != nil {
		return OpenResultFailed, E.Cause(err, "establish")
	}
	if fd < 0 {
		return OpenResultFailed, ErrEstablishRefused
	}
	handle := newTunnelHandle(fd)
	err = handle.validate()
	if err != nil {
		handle.release()
		return OpenResultFailed, err
	}
	detached, _ := handle.detach()
	return detached, nil
}

// Close is idempotent and never closes a descriptor returned by Open.
func (o *TunnelOwner) Close() {
	o.access.Lock()
	defer o.access.Unlock()
	if !o.open {
		return
	}
	o.open = false
	o.stopForeground()
	o.logger.Info("tun closed")
}

func (o *TunnelOwner) IsOpen() bool {
	o.access.Lock()
	defer o.access.Unlock()
	return o.open
}

func (o *TunnelOwner) stopForeground() {
	err := o.platform.StopForeground()
	if err != nil {
		o.logger.Warn("stop foreground: ", err)
	}
}

func (o *TunnelOwner) buildOptions(config *TunnelConfig) tun.Options {
	mtu := config.MTU
	if mtu <= 0 {
		mtu = o.defaults.MTU
	} else if mtu > 65535 {
		mtu = 65535
	}
	session := config.Session
	if session == "" {
		session = o.defaults.Session
	}
	options := tun.Options{
		Name:              session,
		MTU:               uint32(mtu),
		AutoRoute:         true,
		Inet4Address:      []netip.Prefix{parseInet4Prefix(config.Inet4Address, o.defaults.Inet4Address, DefaultInet4Address, false)},
		Inet4RouteAddress: []netip.Prefix{parseInet4Prefix(config.Inet4Route, o.defaults.Inet4Route, DefaultInet4Route, true)},
		Logger:            o.logger,
	}
	if packageName := o.platform.PackageName(); packageName != "" {
		options.ExcludePackage = []string{packageName}
	}
	if !o.defaults.DisableIPv6 {
		address, err := netip.ParsePrefix(o.defaults.Inet6Address)
		if err == nil && address.Addr().Is6() {
			options.Inet6Address = []netip.Prefix{address}
			route, err := netip.ParsePrefix(o.defaults.Inet6Route)
			if err == nil && route.Addr().Is6() {
				options.Inet6RouteAddress = []netip.Prefix{route.Masked()}
			} else {
				o.logger.Warn("skip invalid inet6 route: ", o.defaults.Inet6Route)
			}
		} else {
			o.logger.Warn("skip invalid inet6 address: ", o.defaults.Inet6Address)
		}
	}
	for _, server := range o.defaults.DNSServers {
		address, err := netip.ParseAddr(server)
		if err != nil {
			o.logger.Warn("skip invalid dns server: ", server)
			continue
		}
		options.DNSServers = append(options.DNSServers, address)
	}
	return options
}

func parseInet4Prefix(value string, fallback string, builtin string, route bool) netip.Prefix {
	for _, candidate := range []string{value, fallback} {
		if candidate == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(candidate)
		if err != nil || !prefix.Addr().Is4() {
			continue
		}
		if route {
			prefix = prefix.Masked()
		}
		return prefix
	}
	return netip.MustParsePrefix(builtin)
}

func (o *TunnelOwner) applyOptions(builder TunBuilder, options *tun.Options) error {
	err := builder.SetSession(options.Name)
	if err != nil {
		return E.Cause(err, "set session")
	}
	err = builder.SetMTU(int32(options.MTU))
	if err != nil {
		return E.Cause(err, "set mtu")
	}
	for _, address := range options.Inet4Address {
		err = builder.AddAddress(address.Addr().String(), int32(address.Bits()))
		if err != nil {
			return E.Cause(err, "add address ", address)
		}
	}
	for _, address := range options.Inet6Address {
		err = builder.AddAddress(address.Addr().String(), int32(address.Bits()))
		if err != nil {
			o.logger.Warn("add address ", address, ": ", err)
			options.Inet6Address = nil
			options.Inet6RouteAddress = nil
			break
		}
	}
	routeRanges, err := options.BuildAutoRouteRanges(false)
	if err != nil {
		return E.Cause(err, "build route ranges")
	}
	for _, route := range routeRanges {
		err = builder.AddRoute(route.Addr().String(), int32(route.Bits()))
		if err == nil {
			continue
		}
		if route.Addr().Is4() {
			return E.Cause(err, "add route ", route)
		}
		o.logger.Warn("add route ", route, ": ", err)
	}
	for _, server := range options.DNSServers {
		err = builder.AddDNSServer(server.String())
		if err != nil {
			o.logger.Warn("add dns server ", server, ": ", err)
		}
	}
	for _, packageName := range options.ExcludePackage {
		err = builder.AddDisallowedApplication(packageName)
		if err != nil {
			return E.Cause(err, "exclude ", packageName)
		}
	}
	return nil
}
