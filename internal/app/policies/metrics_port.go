package policies

import "time"

type ReleaseMetrics interface {
	SweepCompleted(trigger string, dryRun bool, scanned, eligible, released, skipped, failed int, took time.Duration)
	ReleaseOutcome(path, outcome string)
}

type NopMetrics struct{}

func (NopMetrics) SweepCompleted(string, bool, int, int, int, int, int, time.Duration) {}
func (NopMetrics) ReleaseOutcome(string, string)                                       {}
