package commitlog

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	atomicfile "github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

// checkpointFileName is the on-disk name of the recovery checkpoint,
// written alongside the segment files in opts.Dir.
const checkpointFileName = "checkpoint"

// writeCheckpoint atomically replaces the checkpoint file with ts (the
// broker-wide min_timestamp an abnormal recovery should trust, §4.5 step 4
// and §4.7). atomic.WriteFile writes to a temp file and renames over the
// target, so a crash mid-write can never leave a truncated checkpoint.
func writeCheckpoint(dir string, ts uint64) error {
	path := filepath.Join(dir, checkpointFileName)
	r := strings.NewReader(strconv.FormatUint(ts, 10))
	if err := atomicfile.WriteFile(path, r); err != nil {
		return errors.Wrap(err, "write checkpoint file")
	}
	return nil
}

// readCheckpoint loads the last timestamp written by writeCheckpoint. A
// missing file is not an error: it means no checkpoint has ever been
// recorded, and abnormal recovery falls back to scanning every segment.
func readCheckpoint(dir string) (uint64, error) {
	path := filepath.Join(dir, checkpointFileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read checkpoint file")
	}
	ts, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse checkpoint file")
	}
	return ts, nil
}
