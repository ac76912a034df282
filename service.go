package libbox

import (
	"context"
	"sync"
	"time"

	_ "github.com/sagernet/gomobile"
	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

// Service wires the host platform to the tunnel owner, the session binder,
// the readiness coordinator and the status surface. The host keeps one per
// process.
type Service struct {
	ctx      context.Context
	cancel   context.CancelFunc
	platform PlatformInterface
	options  *serviceOptions
	logger   logger.Logger

	owner       *TunnelOwner
	binder      *SessionBinder
	permission  *permissionGate
	coordinator *Coordinator
	status      *StatusSurface
	network     *networkManager
	bridge      *Bridge

	closeOnce sync.Once
	closeErr  error
}

func NewService(configContent string, platformInterface PlatformInterface) (*Service, error) {
	if platformInterface == nil {
		return nil, E.New("missing platform interface")
	}
	options, err := parseConfig(configContent)
	if err != nil {
		return nil, err
	}
	return newService(options, platformInterface), nil
}

func newService(options *serviceOptions, platformInterface PlatformInterface) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	serviceLogger := newLogger()
	permission := newPermissionGate(platformInterface, serviceLogger)
	status := newStatusSurface(platformInterface, options.Tile, serviceLogger)
	service := &Service{
		ctx:         ctx,
		cancel:      cancel,
		platform:    platformInterface,
		options:     options,
		logger:      serviceLogger,
		owner:       newTunnelOwner(platformInterface, options.Tunnel, serviceLogger),
		binder:      newSessionBinder(platformInterface, serviceLogger),
		permission:  permission,
		coordinator: newCoordinator(platformInterface, permission, serviceLogger),
		status:      status,
		network:     newNetworkManager(platformInterface, status, serviceLogger),
	}
	service.bridge = &Bridge{service: service}
	return service
}

func (s *Service) Start() error {
	updateLogTarget(func() {
		logPlatform = s.platform
	})
	err := s.network.Start()
	if err != nil {
		s.logger.Warn(E.Cause(err, "start default interface monitor"))
	}
	s.status.Refresh()
	s.logger.Info("service started, version ", Version())
	return nil
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close()
	})
	return s.closeErr
}

func (s *Service) close() error {
	const closeTimeout = 10 * time.Second
	s.cancel()
	var err error
	done := make(chan error, 1)
	go func() {
		s.binder.Close()
		done <- common.Close(
			s.network,
			s.status,
			s.coordinator,
		)
	}()
	select {
	case err = <-done:
	case <-time.After(closeTimeout):
		err = E.New("close service: timeout")
	}
	updateLogTarget(func() {
		if logPlatform == s.platform {
			logPlatform = nil
		}
	})
	return err
}

func (s *Service) TunnelOwner() *TunnelOwner {
	return s.owner
}

func (s *Service) SessionBinder() *SessionBinder {
	return s.binder
}

func (s *Service) StatusSurface() *StatusSurface {
	return s.status
}

func (s *Service) Coordinator() *Coordinator {
	return s.coordinator
}

func (s *Service) Bridge() *Bridge {
	return s.bridge
}

// NewCommandServer creates a command server bound to this service, keeping
// the configured number of log lines.
func (s *Service) NewCommandServer() *CommandServer {
	server := NewCommandServer(s.options.Log.MaxLines)
	server.SetService(s)
	return server
}

// NewActionWorker creates the worker for one tile or shortcut action. Tile
// commands reach a running front-end through the command server.
func (s *Service) NewActionWorker() *ActionDispatcher {
	return newActionDispatcher(s.platform, NewStandaloneCommandClient(), s.options.Worker, s.logger)
}

// OnPermissionResult reports the outcome of the system permission dialog.
func (s *Service) OnPermissionResult(granted bool) {
	s.logger.Info("vpn permission result: ", granted)
	s.permission.resolve(granted)
	s.coordinator.PermissionResult(granted)
}

// HandleTileCommand accepts an action forwarded to the running front-end.
func (s *Service) HandleTileCommand(action string) error {
	switch action {
	case ActionVPNOn, ActionVPNOff, ActionVPNToggle:
	default:
		return E.New("unknown action: ", action)
	}
	s.receive(action)
	return nil
}

// HandleLaunchAction accepts the action a front-end launch carried. Launches
// without an action are ignored.
func (s *Service) HandleLaunchAction(action string) {
	if action == "" {
		return
	}
	s.receive(normalizeAction(action))
}

func (s *Service) receive(action string) {
	resolved := action
	if action == ActionVPNToggle {
		resolved = resolveAction(action, queryTunnelActive(s.platform, s.logger))
	}
	s.coordinator.ReceiveAction(action, resolved)
}
