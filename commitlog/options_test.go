package commitlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsValidateRejectsMissingDir(t *testing.T) {
	opts := DefaultOptions()
	assert.Error(t, opts.Validate())
}

func TestOptionsValidateRejectsOversizedMaxMessage(t *testing.T) {
	opts := DefaultOptions()
	opts.Dir = "/tmp/x"
	opts.SegmentSize = 100
	opts.MaxMessageSize = 200
	assert.Error(t, opts.Validate())
}

func TestOptionsValidateRejectsShortThoroughInterval(t *testing.T) {
	opts := DefaultOptions()
	opts.Dir = "/tmp/x"
	opts.ThoroughInterval = opts.FlushInterval / 2
	assert.Error(t, opts.Validate())
}

func TestOptionsValidateAcceptsDefaults(t *testing.T) {
	opts := DefaultOptions()
	opts.Dir = "/tmp/x"
	assert.NoError(t, opts.Validate())
}
