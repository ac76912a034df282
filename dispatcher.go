package libbox

import (
	"context"
	"time"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

// ActionSink reaches a front-end that may already be running.
type ActionSink interface {
	SendTileCommand(action string) error
	SendRefreshStatus() error
}

type dispatcherPlatform interface {
	ConnectivityQuery
	VPNPermissionGranted() bool
	PostPermissionNotification(action string) error
	LaunchFrontend(action string) error
}

type DispatchResult struct {
	Requested string
	Resolved  string
	// Escalated is set when a permission prompt was posted instead of delivering.
	Escalated bool
	// Forwarded is set when a running front-end accepted the tile command.
	Forwarded bool
	Launched  bool
}

// ActionDispatcher is the short-lived worker started by a tile tap or a
// launcher shortcut. One instance handles one action.
type ActionDispatcher struct {
	platform     dispatcherPlatform
	sink         ActionSink
	logger       logger.Logger
	gracePeriod  time.Duration
	refreshDelay time.Duration
}

func newActionDispatcher(platform dispatcherPlatform, sink ActionSink, options workerOptions, logger logger.Logger) *ActionDispatcher {
	return &ActionDispatcher{
		platform:     platform,
		sink:         sink,
		logger:       logger,
		gracePeriod:  time.Duration(options.GracePeriod),
		refreshDelay: time.Duration(options.RefreshDelay),
	}
}

// Run dispatches the action and returns after the grace period, whatever the
// outcome. The host stops the worker when Run returns.
func (d *ActionDispatcher) Run(action string) {
	d.RunContext(context.Background(), action)
}

func (d *ActionDispatcher) RunContext(ctx context.Context, action string) *DispatchResult {
	startAt := time.Now()
	result := d.Dispatch(action)
	if result.Forwarded || result.Launched {
		if !sleepContext(ctx, d.refreshDelay) {
			return result
		}
		err := d.sink.SendRefreshStatus()
		if err != nil {
			d.logger.Debug(E.Cause(err, "send refresh status"))
		}
	}
	sleepContext(ctx, d.gracePeriod-time.Since(startAt))
	d.logger.Debug("action worker stopped")
	return result
}

func (d *ActionDispatcher) Dispatch(action string) *DispatchResult {
	result := &DispatchResult{Requested: normalizeAction(action)}
	active := queryTunnelActive(d.platform, d.logger)
	result.Resolved = resolveAction(result.Requested, active)
	d.logger.Info("dispatch ", result.Requested, " -> ", result.Resolved, ", tunnel active: ", active)
	if result.Resolved == ActionVPNOn && !d.permissionGranted() {
		result.Escalated = true
		err := d.guard("post permission notification", func() error {
			return d.platform.PostPermissionNotification(result.Resolved)
		})
		if err != nil {
			d.logger.Error(err)
		}
		return result
	}
	err := d.guard("send tile command", func() error {
		return d.sink.SendTileCommand(result.Resolved)
	})
	if err == nil {
		result.Forwarded = true
	} else {
		d.logger.Debug(err)
	}
	// A front-end that accepted the command only needs to come to the front.
	launchAction := result.Resolved
	if result.Forwarded {
		launchAction = ""
	}
	err = d.guard("launch front-end", func() error {
		return d.platform.LaunchFrontend(launchAction)
	})
	if err != nil {
		d.logger.Error(err)
	} else {
		result.Launched = true
	}
	return result
}

func (d *ActionDispatcher) permissionGranted() (granted bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("query vpn permission: ", r)
			granted = false
		}
	}()
	return d.platform.VPNPermissionGranted()
}

func (d *ActionDispatcher) guard(operation string, block func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = E.New(operation, ": ", r)
		}
	}()
	err = block()
	if err != nil {
		err = E.Cause(err, operation)
	}
	return
}

func normalizeAction(action string) string {
	switch action {
	case ActionVPNOn, ActionVPNOff, ActionVPNToggle:
		return action
	default:
		return ActionVPNToggle
	}
}

// resolveAction turns toggle into a concrete direction using the state
// observed now, not at delivery time.
func resolveAction(action string, tunnelActive bool) string {
	if action != ActionVPNToggle {
		return action
	}
	if tunnelActive {
		return ActionVPNOff
	}
	return ActionVPNOn
}

// queryTunnelActive is a point-in-time check. Any failure reads as inactive.
func queryTunnelActive(query ConnectivityQuery, logger logger.Logger) (active bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("query connectivity: ", r)
			active = false
		}
	}()
	active, err := query.TunnelActive()
	if err != nil {
		logger.Warn(E.Cause(err, "query connectivity"))
		return false
	}
	return active
}

func sleepContext(ctx context.Context, duration time.Duration) bool {
	if duration <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
