// Package ha defines the replication rendezvous the commit log's put_message
// waits on at step 8. The replication transport itself is out of scope
// (§1); this package carries the contract plus a local, always-available
// stub so the facade is runnable without a real replica.
package ha

// Request is the minimal surface the commit log's group-commit request
// exposes to an HA service: where it's waiting for the replica to reach,
// and how to wake it once that's known. The concrete request type lives in
// the commitlog package; this interface exists only so ha has no import
// dependency back on it.
type Request interface {
	TargetOffset() uint64
	Complete(ok bool)
}

// Service is the HA collaborator put_message consults before waiting on
// replication.
type Service interface {
	// IsSlaveOK reports whether the replica's acknowledged offset is within
	// the configured lag window of targetOffset.
	IsSlaveOK(targetOffset uint64) bool
	// PutRequest enqueues a request the service will complete once the
	// replica catches up to (or times out waiting for) its target offset.
	PutRequest(req Request)
	// NotifyWaiters wakes the service to re-check pending requests.
	NotifyWaiters()
}

// AlwaysAvailable is a Service stub that reports every target as already
// replicated and completes every request immediately. It lets a
// single-node deployment exercise put_message's replication-wait branch
// without a real transport.
type AlwaysAvailable struct{}

func (AlwaysAvailable) IsSlaveOK(uint64) bool { return true }

func (AlwaysAvailable) PutRequest(req Request) { req.Complete(true) }

func (AlwaysAvailable) NotifyWaiters() {}
