package ha

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRequest struct {
	target    uint64
	completed bool
	ok        bool
}

func (f *fakeRequest) TargetOffset() uint64 { return f.target }
func (f *fakeRequest) Complete(ok bool) {
	f.completed = true
	f.ok = ok
}

func TestAlwaysAvailableReportsSlaveOK(t *testing.T) {
	var svc AlwaysAvailable
	assert.True(t, svc.IsSlaveOK(999))
}

func TestAlwaysAvailableCompletesRequestImmediately(t *testing.T) {
	var svc AlwaysAvailable
	req := &fakeRequest{target: 100}
	svc.PutRequest(req)
	assert.True(t, req.completed)
	assert.True(t, req.ok)
}

func TestAlwaysAvailableNotifyWaitersIsNoop(t *testing.T) {
	var svc AlwaysAvailable
	assert.NotPanics(t, svc.NotifyWaiters)
}
