package commitlog

import (
	"time"

	"github.com/elastic/elastic-agent-libs/config"
	"github.com/pkg/errors"
)

// Options configures a CommitLog, mirroring the teacher's Settings struct:
// plain fields with package-level defaults, loadable from an *config.C the
// way the teacher's beats load queue settings from YAML.
type Options struct {
	// Dir is the directory segment files live in.
	Dir string `config:"dir"`

	// SegmentSize is the fixed size, in bytes, of every segment file.
	SegmentSize uint32 `config:"segment_size"`

	// MaxMessageSize caps the body+metadata size of a single record.
	MaxMessageSize int32 `config:"max_message_size"`

	// TransientPoolEnabled selects the two-stage commit/flush pipeline
	// (transient buffer -> mapped region -> disk) over direct-to-mmap.
	TransientPoolEnabled bool `config:"transient_pool_enabled"`

	// SyncFlushEnabled selects sync (group-commit) durability over async
	// flush/commit services.
	SyncFlushEnabled bool `config:"sync_flush_enabled"`

	// SyncFlushTimeout bounds how long put_message blocks waiting for a
	// synchronous flush to catch up to the record just written.
	SyncFlushTimeout time.Duration `config:"sync_flush_timeout"`

	// GroupCommitPollInterval bounds how long the group-commit service
	// sleeps between list swaps absent a wakeup.
	GroupCommitPollInterval time.Duration `config:"group_commit_poll_interval"`

	// FlushInterval is how often the async flush service invokes flush
	// when sync mode is off.
	FlushInterval time.Duration `config:"flush_interval"`

	// CommitInterval is how often the commit service copies transient
	// buffer pages into the mapped region, when the transient pool is
	// enabled.
	CommitInterval time.Duration `config:"commit_interval"`

	// ThoroughInterval caps how long "least pages" suppression may delay a
	// flush or commit; once elapsed since the last one, least_pages is
	// forced to 0.
	ThoroughInterval time.Duration `config:"thorough_interval"`

	// FlushLeastPages / CommitLeastPages suppress a flush/commit until at
	// least this many 4KiB pages are dirty. 0 forces every invocation.
	FlushLeastPages  int `config:"flush_least_pages"`
	CommitLeastPages int `config:"commit_least_pages"`

	// SyncMaster marks this instance as a replication master that should
	// wait for replica acknowledgement on wait-store-ok messages (§4.4
	// step 8).
	SyncMaster bool `config:"sync_master"`

	// LockerKind selects the writer serializer implementation: "spin" or
	// "mutex".
	LockerKind string `config:"locker_kind"`

	// WarnLockHoldThreshold is the critical-section duration past which
	// put_message emits a warning (§4.4 step 6).
	WarnLockHoldThreshold time.Duration `config:"warn_lock_hold_threshold"`

	// RetentionWindow is the configured segment retention period. Nothing
	// in this module reads it; store.Container.DeleteExpiredSegments takes
	// its expiry rule from the caller.
	RetentionWindow time.Duration `config:"retention_window"`
}

// DefaultOptions returns the option set §4.4-§4.6 specify defaults for.
func DefaultOptions() Options {
	return Options{
		SegmentSize:             1 << 30, // 1 GiB, RocketMQ-family default
		MaxMessageSize:          4 << 20,
		TransientPoolEnabled:    false,
		SyncFlushEnabled:        false,
		SyncFlushTimeout:        5 * time.Second,
		GroupCommitPollInterval: 10 * time.Millisecond,
		FlushInterval:           500 * time.Millisecond,
		CommitInterval:          200 * time.Millisecond,
		ThoroughInterval:        10 * time.Second,
		FlushLeastPages:         4,
		CommitLeastPages:        4,
		SyncMaster:              false,
		LockerKind:              "spin",
		WarnLockHoldThreshold:   500 * time.Millisecond,
		RetentionWindow:         72 * time.Hour,
	}
}

// LoadOptions merges c over DefaultOptions(), the way the teacher's
// FactoryForSettings layers user config over defaults.
func LoadOptions(c *config.C) (Options, error) {
	opts := DefaultOptions()
	if c == nil {
		return opts, opts.Validate()
	}
	if err := c.Unpack(&opts); err != nil {
		return Options{}, errors.Wrap(err, "unpack commitlog options")
	}
	return opts, opts.Validate()
}

// Validate fails fast on misconfiguration that the reference
// implementation silently tolerated (§E.3).
func (o Options) Validate() error {
	if o.Dir == "" {
		return errors.New("commitlog: dir must be set")
	}
	if o.SegmentSize == 0 {
		return errors.New("commitlog: segment_size must be > 0")
	}
	if o.MaxMessageSize <= 0 {
		return errors.New("commitlog: max_message_size must be > 0")
	}
	if int64(o.MaxMessageSize)+8 > int64(o.SegmentSize) {
		return errors.New("commitlog: max_message_size must fit in segment_size")
	}
	if o.ThoroughInterval < o.FlushInterval {
		return errors.New("commitlog: thorough_interval must be >= flush_interval")
	}
	if o.ThoroughInterval < o.CommitInterval {
		return errors.New("commitlog: thorough_interval must be >= commit_interval")
	}
	if o.LockerKind != "spin" && o.LockerKind != "mutex" {
		return errors.Errorf("commitlog: unknown locker_kind %q", o.LockerKind)
	}
	if o.SyncFlushTimeout <= 0 {
		return errors.New("commitlog: sync_flush_timeout must be > 0")
	}
	return nil
}
