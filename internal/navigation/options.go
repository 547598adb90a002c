package navigation

import (
	"math"
	"time"
)

// Recovery defaults.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultSoftMultiplier    = 1
	DefaultHardMultiplier    = 2
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second
	DefaultGracePeriod       = 5 * time.Second
	DefaultMitigationTimeout = 2 * time.Second
	DefaultMaxRetries        = 2
)

// HeartbeatScript is the no-op probe used to check that the page still answers.
const HeartbeatScript = "1"

// MitigationScript halts in-page activity and drops heavy media before a stall reload.
const MitigationScript = `(() => {
	try { window.stop(); } catch (e) {}
	var removed = 0;
	document.querySelectorAll('video, audio, iframe, embed, object').forEach(function (el) {
		try {
			if (el.pause) { el.pause(); }
			el.remove();
			removed++;
		} catch (e) {}
	});
	return removed;
})()`

// Options tunes the timeout ladder and the recovery coordinator.
type Options struct {
	DefaultTimeout    time.Duration
	SoftMultiplier    int
	HardMultiplier    int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	GracePeriod       time.Duration
	MitigationTimeout time.Duration
	MaxRetries        int
	HeartbeatScript   string
	MitigationScript  string
}

// DefaultOptions returns the production recovery settings.
func DefaultOptions() Options {
	return Options{
		DefaultTimeout:    DefaultTimeout,
		SoftMultiplier:    DefaultSoftMultiplier,
		HardMultiplier:    DefaultHardMultiplier,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		GracePeriod:       DefaultGracePeriod,
		MitigationTimeout: DefaultMitigationTimeout,
		MaxRetries:        DefaultMaxRetries,
		HeartbeatScript:   HeartbeatScript,
		MitigationScript:  MitigationScript,
	}
}

// normalized fills unset fields from DefaultOptions. MaxRetries of zero is kept.
func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = d.DefaultTimeout
	}
	if o.SoftMultiplier <= 0 {
		o.SoftMultiplier = d.SoftMultiplier
	}
	if o.HardMultiplier <= 0 {
		o.HardMultiplier = d.HardMultiplier
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = d.GracePeriod
	}
	if o.MitigationTimeout <= 0 {
		o.MitigationTimeout = d.MitigationTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.HeartbeatScript == "" {
		o.HeartbeatScript = d.HeartbeatScript
	}
	if o.MitigationScript == "" {
		o.MitigationScript = d.MitigationScript
	}
	o.DefaultTimeout = o.clampTimeout(o.DefaultTimeout)
	return o
}

// clampTimeout caps timeout so that neither deadline overflows a Duration.
func (o Options) clampTimeout(timeout time.Duration) time.Duration {
	limit := time.Duration(math.MaxInt64 / int64(max(o.SoftMultiplier, o.HardMultiplier, 1)))
	return min(timeout, limit)
}

func (o Options) softDeadline(timeout time.Duration) time.Duration {
	return timeout * time.Duration(o.SoftMultiplier)
}

func (o Options) hardDeadline(timeout time.Duration) time.Duration {
	return timeout * time.Duration(o.HardMultiplier)
}
