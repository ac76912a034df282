package libbox

import (
	"testing"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOwner(platform *testPlatform) *TunnelOwner {
	return newTunnelOwner(platform, testOptions().Tunnel, newLogger())
}

func TestTunnelOpenDefaults(t *testing.T) {
	platform := newTestPlatform()
	platform.builder.fd = newTestDescriptor(t)
	owner := newTestOwner(platform)
	fd, err := owner.Open(&TunnelConfig{})
	require.NoError(t, err)
	require.Equal(t, platform.builder.fd, fd)

	builder := platform.builder
	assert.EqualValues(t, DefaultTunnelMTU, builder.mtu)
	assert.Equal(t, DefaultSessionLabel, builder.session)
	require.NotEmpty(t, builder.addresses)
	assert.Equal(t, testRoute{"10.225.0.2", 30}, builder.addresses[0])
	assert.Equal(t, []string{platform.packageName}, builder.disallowed)
	assert.Equal(t, []string{DefaultDNSServer}, builder.dnsServers)
	var inet4Routes int
	for _, route := range builder.routes {
		if isIPv4Literal(route.address) {
			inet4Routes++
		}
	}
	assert.NotZero(t, inet4Routes, "no ipv4 route added")
	assert.True(t, owner.IsOpen())
	assert.Len(t, platform.foreground, 1)
}

func TestTunnelOpenRequestedValues(t *testing.T) {
	platform := newTestPlatform()
	platform.builder.fd = newTestDescriptor(t)
	owner := newTestOwner(platform)
	_, err := owner.Open(&TunnelConfig{
		MTU:          9000,
		Inet4Address: "192.168.99.1/24",
		Inet4Route:   "0.0.0.0/0",
		Session:      "test",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 9000, platform.builder.mtu)
	assert.Equal(t, "test", platform.builder.session)
	assert.Equal(t, testRoute{"192.168.99.1", 24}, platform.builder.addresses[0])
}

func TestTunnelMalformedAddressFallsBack(t *testing.T) {
	owner := newTestOwner(newTestPlatform())
	for _, address := range []string{"", "not-an-address", "10.0.0.1", "fd00::1/64"} {
		options := owner.buildOptions(&TunnelConfig{Inet4Address: address})
		assert.Equal(t, DefaultInet4Address, options.Inet4Address[0].String(), address)
	}
	options := owner.buildOptions(&TunnelConfig{Inet4Route: "10.1.2.3/8"})
	assert.Equal(t, "10.0.0.0/8", options.Inet4RouteAddress[0].String())
	options = owner.buildOptions(&TunnelConfig{MTU: 100000})
	assert.EqualValues(t, 65535, options.MTU)
}

func TestTunnelBestEffortFailures(t *testing.T) {
	platform := newTestPlatform()
	platform.builder.fd = newTestDescriptor(t)
	platform.builder.failInet6 = true
	platform.builder.failDNS = true
	owner := newTestOwner(platform)
	fd, err := owner.Open(nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fd, int32(0))
	for _, route := range platform.builder.routes {
		assert.True(t, isIPv4Literal(route.address), "ipv6 route %v added after address failure", route)
	}
}

func TestTunnelEstablishFailure(t *testing.T) {
	platform := newTestPlatform()
	platform.builder.establishErr = E.New("user revoked")
	owner := newTestOwner(platform)
	fd, err := owner.Open(&TunnelConfig{})
	require.Error(t, err)
	assert.Equal(t, OpenResultFailed, fd)
	assert.False(t, owner.IsOpen())
	assert.Equal(t, 1, platform.stopForeground)
}

func TestTunnelEstablishRefused(t *testing.T) {
	owner := newTestOwner(newTestPlatform())
	fd, err := owner.Open(&TunnelConfig{})
	require.ErrorIs(t, err, ErrEstablishRefused)
	assert.Equal(t, OpenResultFailed, fd)
}

func TestTunnelCloseKeepsDescriptor(t *testing.T) {
	platform := newTestPlatform()
	platform.builder.fd = newTestDescriptor(t)
	owner := newTestOwner(platform)
	fd, err := owner.Open(&TunnelConfig{})
	require.NoError(t, err)
	owner.Close()
	owner.Close()
	assert.Equal(t, 1, platform.stopForeground)
	assert.True(t, descriptorValid(fd), "descriptor closed by owner")
}

func TestTunnelHandleDetachOnce(t *testing.T) {
	fd := newTestDescriptor(t)
	handle := newTunnelHandle(fd)
	require.NoError(t, handle.validate())

	detached, ok := handle.detach()
	require.True(t, ok)
	require.Equal(t, fd, detached)
	_, ok = handle.detach()
	assert.False(t, ok, "detached twice")
	assert.EqualValues(t, -1, handle.FileDescriptor())
	assert.NoError(t, handle.release())
	assert.Error(t, handle.validate())
	assert.True(t, descriptorValid(fd), "release closed a detached descriptor")
}

func TestBinderOpenBeforeBound(t *testing.T) {
	binder := newSessionBinder(newTestPlatform(), newLogger())
	fd, err := binder.Open(&TunnelConfig{MTU: 9000, Inet4Address: "192.168.99.1/24", Inet4Route: "0.0.0.0/0", Session: "test"})
	require.ErrorIs(t, err, ErrNotBound)
	assert.Equal(t, OpenResultNotBound, fd)
	binder.Close()
	assert.False(t, binder.IsBound())
}

func TestBinderLifecycle(t *testing.T) {
	platform := newTestPlatform()
	platform.builder.fd = newTestDescriptor(t)
	binder := newSessionBinder(platform, newLogger())
	ok, err := binder.Bind()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, binder.IsBound(), "bound before connection")

	binder.OnServiceConnected(newTestOwner(platform))
	ok, _ = binder.Bind()
	assert.True(t, ok)
	assert.Equal(t, 1, platform.bindCalls, "second bind should reuse the connection")

	fd, err := binder.Open(&TunnelConfig{})
	require.NoError(t, err)
	assert.Equal(t, platform.builder.fd, fd)

	binder.OnServiceDisconnected()
	_, err = binder.Open(&TunnelConfig{})
	require.ErrorIs(t, err, ErrNotBound)
	require.NoError(t, binder.Unbind())
	require.NoError(t, binder.Unbind())
	assert.Equal(t, 1, platform.unbindCalls)
}
