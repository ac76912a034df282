package libbox

import (
	"sync"
	"time"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	"github.com/sagernet/sing/common/observable"
)

type statusPlatform interface {
	ConnectivityQuery
	TilePlatform
}

// StatusSurface drives the quick-settings tile. Its state is derived from a
// connectivity query on every refresh and never stored beyond the last value.
type StatusSurface struct {
	platform          statusPlatform
	logger            logger.Logger
	clickRefreshDelay time.Duration
	subscriber        *observable.Subscriber[bool]
	observer          *observable.Observer[bool]

	access    sync.Mutex
	listening bool
	active    bool
	timer     *time.Timer
}

func newStatusSurface(platform statusPlatform, options tileOptions, logger logger.Logger) *StatusSurface {
	subscriber := observable.NewSubscriber[bool](16)
	return &StatusSurface{
		platform:          platform,
		logger:            logger,
		clickRefreshDelay: time.Duration(options.ClickRefreshDelay),
		subscriber:        subscriber,
		observer:          observable.NewObserver[bool](subscriber, 8),
	}
}

func (s *StatusSurface) Refresh() bool {
	active := queryTunnelActive(s.platform, s.logger)
	s.access.Lock()
	changed := active != s.active
	s.active = active
	s.access.Unlock()
	err := s.platform.UpdateTileState(active)
	if err != nil {
		s.logger.Warn(E.Cause(err, "update tile"))
	}
	if changed {
		s.subscriber.Emit(active)
	}
	return active
}

// HandleRefreshSignal refreshes only while the tile is listening.
func (s *StatusSurface) HandleRefreshSignal() {
	s.access.Lock()
	listening := s.listening
	s.access.Unlock()
	if listening {
		s.Refresh()
	}
}

func (s *StatusSurface) IsActive() bool {
	s.access.Lock()
	defer s.access.Unlock()
	return s.active
}

func (s *StatusSurface) OnTileAdded() {
	s.Refresh()
}

func (s *StatusSurface) OnStartListening() {
	s.access.Lock()
	s.listening = true
	s.access.Unlock()
	s.Refresh()
}

func (s *StatusSurface) OnStopListening() {
	s.access.Lock()
	defer s.access.Unlock()
	s.listening = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// OnClick starts a toggle worker and refreshes shortly afterwards. The tile is
// never marked unavailable in between.
func (s *StatusSurface) OnClick() {
	err := s.platform.StartActionWorker(ActionVPNToggle)
	if err != nil {
		s.logger.Error(E.Cause(err, "start action worker"))
	}
	s.access.Lock()
	defer s.access.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.clickRefreshDelay, func() {
		s.Refresh()
	})
}

func (s *StatusSurface) Close() error {
	s.OnStopListening()
	return s.observer.Close()
}
