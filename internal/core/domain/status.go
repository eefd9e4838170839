package domain

// SceneStatus is the closed set of scene lifecycle states. Transitions
// happen only through edges listed in sceneTransitions.
type SceneStatus string

const (
	SceneOrdered     SceneStatus = "ordered"
	SceneSubmitted   SceneStatus = "submitted"
	SceneOnOrder     SceneStatus = "onorder"
	SceneOnCache     SceneStatus = "oncache"
	SceneQueued      SceneStatus = "queued"
	SceneTasked      SceneStatus = "tasked"
	SceneScheduled   SceneStatus = "scheduled"
	SceneProcessing  SceneStatus = "processing"
	SceneComplete    SceneStatus = "complete"
	SceneError       SceneStatus = "error"
	SceneUnavailable SceneStatus = "unavailable"
	SceneRetry       SceneStatus = "retry"
	SceneCancelled   SceneStatus = "cancelled"
	ScenePurged      SceneStatus = "purged"
)

// OrderStatus is the closed set of order states.
type OrderStatus string

const (
	OrderOrdered   OrderStatus = "ordered"
	OrderComplete  OrderStatus = "complete"
	OrderCancelled OrderStatus = "cancelled"
	OrderPurged    OrderStatus = "purged"
)

// Remote status codes pushed to the inventory system.
const (
	RemoteStatusInProgress = "I"
	RemoteStatusComplete   = "C"
	RemoteStatusRejected   = "R"
)

// Order origins.
const (
	SourceInternal = "internal"
	SourceExternal = "external-inventory"
)

var sceneTransitions = map[SceneStatus][]SceneStatus{
	SceneOrdered:    {SceneSubmitted, SceneCancelled},
	SceneSubmitted:  {SceneOnCache, SceneOnOrder, SceneUnavailable, SceneCancelled},
	SceneOnOrder:    {SceneOnCache, SceneUnavailable, SceneCancelled},
	SceneOnCache:    {SceneQueued, SceneCancelled},
	SceneQueued:     {SceneTasked, SceneScheduled, SceneProcessing, SceneOnCache, SceneCancelled},
	SceneTasked:     {SceneScheduled, SceneProcessing, SceneOnCache, SceneCancelled},
	SceneScheduled:  {SceneProcessing, SceneOnCache, SceneCancelled},
	SceneProcessing: {SceneComplete, SceneError, SceneUnavailable, SceneOnCache, SceneCancelled},
	// error resolution: immediate resubmit, deferred retry, or give up
	SceneError:       {SceneSubmitted, SceneRetry, SceneUnavailable, SceneCancelled},
	SceneRetry:       {SceneSubmitted, SceneUnavailable, SceneCancelled},
	SceneComplete:    {ScenePurged},
	SceneUnavailable: {ScenePurged},
	SceneCancelled:   {ScenePurged},
	ScenePurged:      {},
}

// ValidSceneStatus reports whether s is a member of the closed status set.
func ValidSceneStatus(s SceneStatus) bool {
	_, ok := sceneTransitions[s]
	return ok
}

// ValidTransition reports whether a scene may move from one status to another.
func ValidTransition(from, to SceneStatus) bool {
	for _, next := range sceneTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no ordinary transition may leave the status.
// Cancelled scenes are terminal for the orchestrator; only the purge
// coordinator moves them on.
func (s SceneStatus) Terminal() bool {
	return s == SceneCancelled || s == ScenePurged
}

// InFlight reports whether the scene is held by the external compute fleet.
func (s SceneStatus) InFlight() bool {
	return s == SceneTasked || s == SceneScheduled || s == SceneProcessing
}

// InFlightStatuses lists the statuses covered by stuck-job recovery.
func InFlightStatuses() []SceneStatus {
	return []SceneStatus{SceneTasked, SceneScheduled, SceneProcessing}
}

// RunningStatuses lists statuses counted against a submitter in the
// fairness queue.
func RunningStatuses() []SceneStatus {
	return []SceneStatus{SceneQueued, SceneProcessing}
}

// Settled reports whether a scene no longer needs processing. An order is
// complete once every scene is settled.
func (s SceneStatus) Settled() bool {
	return s == SceneComplete || s == SceneUnavailable
}
