package libbox

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	E "github.com/sagernet/sing/common/exceptions"
	"golang.org/x/sys/unix"
)

var _ PlatformInterface = (*testPlatform)(nil)

type testPlatform struct {
	access sync.Mutex

	packageName       string
	tunnelActive      bool
	tunnelActiveErr   error
	permissionGranted bool
	bindOK            bool
	launchErr         error
	builderErr        error
	builder           *testTunBuilder

	permissionRequests int
	notifications      []string
	launches           []string
	moveToBack         int
	foreground         []string
	stopForeground     int
	bindCalls          int
	unbindCalls        int
	tileStates         []bool
	workers            []string
	monitorStarted     bool
	delivered          chan string
}

func newTestPlatform() *testPlatform {
	return &testPlatform{
		packageName: "com.example.gsou",
		bindOK:      true,
		builder:     &testTunBuilder{fd: -1},
		delivered:   make(chan string, 16),
	}
}

func (p *testPlatform) PackageName() string {
	return p.packageName
}

func (p *testPlatform) NewTunBuilder() (TunBuilder, error) {
	p.access.Lock()
	defer p.access.Unlock()
	if p.builderErr != nil {
		return nil, p.builderErr
	}
	return p.builder, nil
}

func (p *testPlatform) StartForeground(title string) error {
	p.access.Lock()
	defer p.access.Unlock()
	p.foreground = append(p.foreground, title)
	return nil
}

func (p *testPlatform) StopForeground() error {
	p.access.Lock()
	defer p.access.Unlock()
	p.stopForeground++
	return nil
}

func (p *testPlatform) TunnelActive() (bool, error) {
	p.access.Lock()
	defer p.access.Unlock()
	return p.tunnelActive, p.tunnelActiveErr
}

func (p *testPlatform) setTunnelActive(active bool) {
	p.access.Lock()
	defer p.access.Unlock()
	p.tunnelActive = active
}

func (p *testPlatform) VPNPermissionGranted() bool {
	p.access.Lock()
	defer p.access.Unlock()
	return p.permissionGranted
}

func (p *testPlatform) RequestVPNPermission() error {
	p.access.Lock()
	defer p.access.Unlock()
	p.permissionRequests++
	return nil
}

func (p *testPlatform) PostPermissionNotification(action string) error {
	p.access.Lock()
	defer p.access.Unlock()
	p.notifications = append(p.notifications, action)
	return nil
}

func (p *testPlatform) LaunchFrontend(action string) error {
	p.access.Lock()
	defer p.access.Unlock()
	if p.launchErr != nil {
		return p.launchErr
	}
	p.launches = append(p.launches, action)
	return nil
}

func (p *testPlatform) MoveTaskToBack() error {
	p.access.Lock()
	defer p.access.Unlock()
	p.moveToBack++
	return nil
}

func (p *testPlatform) DeliverAction(action string) {
	p.delivered <- action
}

func (p *testPlatform) BindTunnelService() (bool, error) {
	p.access.Lock()
	defer p.access.Unlock()
	p.bindCalls++
	return p.bindOK, nil
}

func (p *testPlatform) UnbindTunnelService() error {
	p.access.Lock()
	defer p.access.Unlock()
	p.unbindCalls++
	return nil
}

func (p *testPlatform) UpdateTileState(active bool) error {
	p.access.Lock()
	defer p.access.Unlock()
	p.tileStates = append(p.tileStates, active)
	return nil
}

func (p *testPlatform) StartActionWorker(action string) error {
	p.access.Lock()
	defer p.access.Unlock()
	p.workers = append(p.workers, action)
	return nil
}

func (p *testPlatform) WriteLog(message string) {
}

func (p *testPlatform) StartDefaultInterfaceMonitor(listener InterfaceUpdateListener) error {
	p.access.Lock()
	defer p.access.Unlock()
	p.monitorStarted = true
	return nil
}

func (p *testPlatform) CloseDefaultInterfaceMonitor(listener InterfaceUpdateListener) error {
	p.access.Lock()
	defer p.access.Unlock()
	p.monitorStarted = false
	return nil
}

func (p *testPlatform) counters() (permissionRequests int, moveToBack int) {
	p.access.Lock()
	defer p.access.Unlock()
	return p.permissionRequests, p.moveToBack
}

func (p *testPlatform) tiles() []bool {
	p.access.Lock()
	defer p.access.Unlock()
	return append([]bool(nil), p.tileStates...)
}

type testRoute struct {
	address string
	prefix  int32
}

type testTunBuilder struct {
	access sync.Mutex
	fd     int32

	failInet6    bool
	failDNS      bool
	establishErr error

	session    string
	mtu        int32
	addresses  []testRoute
	routes     []testRoute
	dnsServers []string
	disallowed []string
	establish  int
}

func (b *testTunBuilder) SetSession(session string) error {
	b.access.Lock()
	defer b.access.Unlock()
	b.session = session
	return nil
}

func (b *testTunBuilder) SetMTU(mtu int32) error {
	b.access.Lock()
	defer b.access.Unlock()
	b.mtu = mtu
	return nil
}

func (b *testTunBuilder) AddAddress(address string, prefixLength int32) error {
	b.access.Lock()
	defer b.access.Unlock()
	if b.failInet6 && !isIPv4Literal(address) {
		return E.New("ipv6 not supported")
	}
	b.addresses = append(b.addresses, testRoute{address, prefixLength})
	return nil
}

func (b *testTunBuilder) AddRoute(address string, prefixLength int32) error {
	b.access.Lock()
	defer b.access.Unlock()
	if b.failInet6 && !isIPv4Literal(address) {
		return E.New("ipv6 not supported")
	}
	b.routes = append(b.routes, testRoute{address, prefixLength})
	return nil
}

func (b *testTunBuilder) AddDNSServer(address string) error {
	b.access.Lock()
	defer b.access.Unlock()
	if b.failDNS {
		return E.New("dns rejected")
	}
	b.dnsServers = append(b.dnsServers, address)
	return nil
}

func (b *testTunBuilder) AddDisallowedApplication(packageName string) error {
	b.access.Lock()
	defer b.access.Unlock()
	b.disallowed = append(b.disallowed, packageName)
	return nil
}

func (b *testTunBuilder) Establish() (int32, error) {
	b.access.Lock()
	defer b.access.Unlock()
	b.establish++
	if b.establishErr != nil {
		return -1, b.establishErr
	}
	return b.fd, nil
}

func isIPv4Literal(address string) bool {
	return !strings.Contains(address, ":")
}

// newTestDescriptor returns a descriptor the test owns and closes on cleanup.
func newTestDescriptor(t *testing.T) int32 {
	t.Helper()
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	fd, err := unix.Dup(int(reader.Fd()))
	reader.Close()
	writer.Close()
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fd)
	})
	return int32(fd)
}

func descriptorValid(fd int32) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

func waitDelivered(t *testing.T, platform *testPlatform) string {
	t.Helper()
	select {
	case action := <-platform.delivered:
		return action
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

func expectNoDelivery(t *testing.T, platform *testPlatform) {
	t.Helper()
	select {
	case action := <-platform.delivered:
		t.Fatalf("unexpected delivery of %s", action)
	case <-time.After(50 * time.Millisecond):
	}
}

func testOptions() *serviceOptions {
	var options serviceOptions
	options.applyDefaults()
	return &options
}
