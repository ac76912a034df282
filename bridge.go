package libbox

import (
	"errors"
	"strings"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"
)

// Method names used by the front-end's method channel.
const (
	MethodProbeBound          = "vpnIsBound"
	MethodRequestPermission   = "vpnPrepare"
	MethodBindSession         = "vpnBind"
	MethodUnbindSession       = "vpnUnbind"
	MethodOpenTunnel          = "vpnOpenTunAndGetFd"
	MethodCloseTunnel         = "vpnCloseTun"
	MethodFrontendInitialized = "frontendInitialized"
	MethodHandlerRegistered   = "handlerRegistered"
	MethodActionCompleted     = "actionCompleted"
)

// Bridge is the set of calls the front-end makes into this library. No call
// returns an error or panics into the front-end; failures become sentinels.
type Bridge struct {
	service *Service
}

func (b *Bridge) ProbeBound() bool {
	return b.service.binder.IsBound()
}

// RequestPermission returns true if permission was already granted or the
// user approved the prompt. It blocks until the user decides.
func (b *Bridge) RequestPermission() bool {
	return b.service.permission.Await(b.service.ctx)
}

func (b *Bridge) BindSession() bool {
	ok, err := b.service.binder.Bind()
	if err != nil {
		b.service.logger.Error(err)
		return false
	}
	return ok
}

func (b *Bridge) UnbindSession() bool {
	err := b.service.binder.Unbind()
	if err != nil {
		b.service.logger.Warn(E.Cause(err, "unbind tunnel service"))
	}
	return true
}

// OpenTunnel returns the tun descriptor, OpenResultNotBound before the
// session is bound, or OpenResultFailed on any other failure.
func (b *Bridge) OpenTunnel(mtu int32, addressCIDR string, routeCIDR string, label string) (fd int32) {
	defer func() {
		if r := recover(); r != nil {
			b.service.logger.Error("open tunnel: ", r)
			fd = OpenResultFailed
		}
	}()
	fd, err := b.service.binder.Open(&TunnelConfig{
		MTU:          mtu,
		Inet4Address: addressCIDR,
		Inet4Route:   routeCIDR,
		Session:      label,
	})
	if errors.Is(err, ErrNotBound) {
		return OpenResultNotBound
	}
	if err != nil || fd < 0 {
		return OpenResultFailed
	}
	return fd
}

func (b *Bridge) CloseTunnel() bool {
	b.service.binder.Close()
	return true
}

func (b *Bridge) FrontendInitialized() bool {
	b.service.coordinator.FrontendInitialized()
	return true
}

func (b *Bridge) HandlerRegistered() bool {
	b.service.coordinator.HandlerRegistered()
	return true
}

func (b *Bridge) ActionCompleted() bool {
	b.service.coordinator.ActionCompleted()
	return true
}

type openTunnelArguments struct {
	MTU      int32  `json:"mtu,omitempty"`
	IPv4CIDR string `json:"ipv4Cidr,omitempty"`
	Route    string `json:"routeCidr,omitempty"`
	Session  string `json:"session,omitempty"`
}

// Invoke dispatches a method-channel call by name. Arguments and the result
// are JSON documents.
func (b *Bridge) Invoke(method string, arguments string) (string, error) {
	var result any
	switch method {
	case MethodProbeBound:
		result = b.ProbeBound()
	case MethodRequestPermission:
		result = b.RequestPermission()
	case MethodBindSession:
		result = b.BindSession()
	case MethodUnbindSession:
		result = b.UnbindSession()
	case MethodOpenTunnel:
		var options openTunnelArguments
		if strings.TrimSpace(arguments) != "" {
			err := json.Unmarshal([]byte(arguments), &options)
			if err != nil {
				return "", E.Cause(err, "parse arguments of ", method)
			}
		}
		result = b.OpenTunnel(options.MTU, options.IPv4CIDR, options.Route, options.Session)
	case MethodCloseTunnel:
		result = b.CloseTunnel()
	case MethodFrontendInitialized:
		result = b.FrontendInitialized()
	case MethodHandlerRegistered:
		result = b.HandlerRegistered()
	case MethodActionCompleted:
		result = b.ActionCompleted()
	default:
		return "", E.New("method not implemented: ", method)
	}
	content, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(content), nil
}
