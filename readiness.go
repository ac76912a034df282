package libbox

// The readiness state machine is a pure function of (state, event). The
// Coordinator owns the only instance and performs the returned effects.
//
// idle -> action-pending               receive-action while not ready, or awaiting permission
// idle | action-pending -> delivered   the second readiness flag arrives, or receive-action while ready
// action-pending -> backgrounding      permission granted and delivered
// delivered | backgrounding -> idle    action-completed

type coordinatorPhase uint8

const (
	phaseIdle coordinatorPhase = iota
	phaseActionPending
	phaseDelivered
	phaseBackgrounding
)

func (p coordinatorPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseActionPending:
		return "action-pending"
	case phaseDelivered:
		return "delivered-awaiting-completion"
	case phaseBackgrounding:
		return "backgrounding"
	default:
		return "unknown"
	}
}

type readinessEventKind uint8

const (
	eventReceiveAction readinessEventKind = iota
	eventFrontendInitialized
	eventHandlerRegistered
	eventActionCompleted
	eventPermissionResult
)

type readinessEvent struct {
	kind   readinessEventKind
	action pendingAction
	// For receive-action: permission was already granted when the action arrived.
	// For permission-result: the user's decision.
	granted bool
}

type readinessEffectKind uint8

const (
	effectDeliver readinessEffectKind = iota
	effectMoveToBackground
	effectRequestPermission
	effectDiscard
)

type readinessEffect struct {
	kind   readinessEffectKind
	action pendingAction
}

type pendingAction struct {
	requested string
	resolved  string
}

func (a pendingAction) isZero() bool {
	return a.resolved == ""
}

type readinessState struct {
	phase               coordinatorPhase
	frontendInitialized bool
	handlerRegistered   bool
	pending             pendingAction
	awaitingPermission  bool
	// backgroundOnDelivery is set by a granted permission result; the next
	// delivery backgrounds without waiting for action-completed.
	backgroundOnDelivery bool
	backgroundRequested  bool
}

func (s readinessState) ready() bool {
	return s.frontendInitialized && s.handlerRegistered
}

func (s readinessState) apply(event readinessEvent) (readinessState, []readinessEffect) {
	switch event.kind {
	case eventReceiveAction:
		return s.receiveAction(event.action, event.granted)
	case eventFrontendInitialized:
		s.frontendInitialized = true
		return s.flush()
	case eventHandlerRegistered:
		s.handlerRegistered = true
		return s.flush()
	case eventActionCompleted:
		return s.actionCompleted()
	case eventPermissionResult:
		return s.permissionResult(event.granted)
	default:
		return s, nil
	}
}

func (s readinessState) receiveAction(action pendingAction, granted bool) (readinessState, []readinessEffect) {
	var effects []readinessEffect
	if !s.pending.isZero() {
		effects = append(effects, readinessEffect{kind: effectDiscard, action: s.pending})
	}
	s.pending = action
	s.backgroundRequested = true
	if action.resolved == ActionVPNOn && !granted {
		s.phase = phaseActionPending
		if !s.awaitingPermission {
			s.awaitingPermission = true
			effects = append(effects, readinessEffect{kind: effectRequestPermission, action: action})
		}
		return s, effects
	}
	s.awaitingPermission = false
	s.backgroundOnDelivery = false
	next, flushed := s.flush()
	return next, append(effects, flushed...)
}

// flush delivers the pending action when both readiness flags are set. The
// slot is emptied in the same step, so a later flush cannot see it again.
func (s readinessState) flush() (readinessState, []readinessEffect) {
	if s.pending.isZero() || s.awaitingPermission {
		return s, nil
	}
	if !s.ready() {
		s.phase = phaseActionPending
		return s, nil
	}
	effects := []readinessEffect{{kind: effectDeliver, action: s.pending}}
	s.pending = pendingAction{}
	if s.backgroundOnDelivery {
		s.backgroundOnDelivery = false
		s.backgroundRequested = false
		s.phase = phaseBackgrounding
		effects = append(effects, readinessEffect{kind: effectMoveToBackground})
	} else {
		s.phase = phaseDelivered
	}
	return s, effects
}

func (s readinessState) actionCompleted() (readinessState, []readinessEffect) {
	if s.phase != phaseDelivered && s.phase != phaseBackgrounding {
		return s, nil
	}
	var effects []readinessEffect
	if s.backgroundRequested {
		s.backgroundRequested = false
		effects = append(effects, readinessEffect{kind: effectMoveToBackground})
	}
	if s.pending.isZero() {
		s.phase = phaseIdle
	} else {
		s.phase = phaseActionPending
	}
	return s, effects
}

func (s readinessState) permissionResult(granted bool) (readinessState, []readinessEffect) {
	if !s.awaitingPermission || s.pending.resolved != ActionVPNOn {
		return s, nil
	}
	s.awaitingPermission = false
	if !granted {
		discarded := s.pending
		s.pending = pendingAction{}
		s.backgroundRequested = false
		s.phase = phaseIdle
		return s, []readinessEffect{{kind: effectDiscard, action: discarded}}
	}
	s.backgroundOnDelivery = true
	return s.flush()
}
