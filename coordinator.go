package libbox

import (
	"sync"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

type coordinatorPlatform interface {
	MoveTaskToBack() error
	DeliverAction(action string)
}

// Coordinator buffers one action until the front-end is both initialized and
// listening, then hands it over exactly once.
type Coordinator struct {
	platform   coordinatorPlatform
	permission *permissionGate
	logger     logger.Logger
	mailbox    *actionMailbox

	access   sync.Mutex
	state    readinessState
	events   []readinessEvent
	draining bool
}

func newCoordinator(platform coordinatorPlatform, permission *permissionGate, logger logger.Logger) *Coordinator {
	return &Coordinator{
		platform:   platform,
		permission: permission,
		logger:     logger,
		mailbox:    newActionMailbox(platform.DeliverAction, logger),
	}
}

// ReceiveAction accepts a resolved action. A pending action that was not yet
// delivered is replaced.
func (c *Coordinator) ReceiveAction(requested string, resolved string) {
	granted := true
	if resolved == ActionVPNOn {
		granted = c.permission.Granted()
	}
	c.post(readinessEvent{
		kind:    eventReceiveAction,
		action:  pendingAction{requested: requested, resolved: resolved},
		granted: granted,
	})
}

func (c *Coordinator) FrontendInitialized() {
	c.post(readinessEvent{kind: eventFrontendInitialized})
}

func (c *Coordinator) HandlerRegistered() {
	c.post(readinessEvent{kind: eventHandlerRegistered})
}

func (c *Coordinator) ActionCompleted() {
	c.post(readinessEvent{kind: eventActionCompleted})
}

func (c *Coordinator) PermissionResult(granted bool) {
	c.post(readinessEvent{kind: eventPermissionResult, granted: granted})
}

func (c *Coordinator) Phase() string {
	c.access.Lock()
	defer c.access.Unlock()
	return c.state.phase.String()
}

func (c *Coordinator) Close() error {
	return c.mailbox.Close()
}

// post applies events in arrival order. Effects run without the lock held, so
// a host that calls back into the coordinator from an effect only queues its
// event for the goroutine already draining.
func (c *Coordinator) post(event readinessEvent) {
	c.access.Lock()
	c.events = append(c.events, event)
	if c.draining {
		c.access.Unlock()
		return
	}
	c.draining = true
	for len(c.events) > 0 {
		next := c.events[0]
		c.events = c.events[1:]
		previous := c.state.phase
		var effects []readinessEffect
		c.state, effects = c.state.apply(next)
		if previous != c.state.phase {
			c.logger.Debug("coordinator ", previous, " -> ", c.state.phase)
		}
		c.access.Unlock()
		for _, effect := range effects {
			if followUp, loaded := c.perform(effect); loaded {
				c.access.Lock()
				c.events = append(c.events, followUp)
				c.access.Unlock()
			}
		}
		c.access.Lock()
	}
	c.draining = false
	c.access.Unlock()
}

func (c *Coordinator) perform(effect readinessEffect) (followUp readinessEvent, loaded bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("coordinator effect panicked: ", r)
		}
	}()
	switch effect.kind {
	case effectDeliver:
		c.logger.Info("deliver ", effect.action.resolved, " (requested ", effect.action.requested, ")")
		c.mailbox.Send(effect.action.resolved)
	case effectMoveToBackground:
		err := c.platform.MoveTaskToBack()
		if err != nil {
			c.logger.Warn(E.Cause(err, "move task to back"))
		}
	case effectRequestPermission:
		c.logger.Info("vpn permission required for ", effect.action.resolved)
		err := c.permission.Request()
		if err != nil {
			c.logger.Error(err)
			return readinessEvent{kind: eventPermissionResult, granted: false}, true
		}
	case effectDiscard:
		c.logger.Info("discard pending ", effect.action.resolved)
	}
	return readinessEvent{}, false
}

// actionMailbox is a one-way channel to the front-end. Each accepted action
// is handed to deliver at most once, on the mailbox goroutine.
type actionMailbox struct {
	deliver   func(action string)
	logger    logger.Logger
	queue     chan string
	done      chan struct{}
	closeOnce sync.Once
}

func newActionMailbox(deliver func(action string), logger logger.Logger) *actionMailbox {
	mailbox := &actionMailbox{
		deliver: deliver,
		logger:  logger,
		queue:   make(chan string, 16),
		done:    make(chan struct{}),
	}
	go mailbox.loop()
	return mailbox
}

func (m *actionMailbox) Send(action string) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.queue <- action:
		return true
	default:
		m.logger.Error("front-end mailbox full, dropped ", action)
		return false
	}
}

func (m *actionMailbox) loop() {
	for {
		select {
		case action := <-m.queue:
			m.handle(action)
		case <-m.done:
			return
		}
	}
}

func (m *actionMailbox) handle(action string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("deliver ", action, " panicked: ", r)
		}
	}()
	m.deliver(action)
}

func (m *actionMailbox) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}
