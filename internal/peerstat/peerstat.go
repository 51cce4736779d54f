// Package peerstat implements the rolling upload/download speed estimator
// used by a peer session. Unlike the teacher's peer package — which runs a
// 1s ticker goroutine to snapshot atomic counters — this estimator is pulled
// synchronously by the single-threaded event loop: every updateXLength call
// records a timestamped sample, and calculateXSpeed averages the samples
// that fall inside the trailing window.
package peerstat

import (
	"github.com/qitv/gofetch/internal/clock"
)

// window is the trailing interval speed is averaged over, per spec.md §4.3
// ("~5s").
const window = 5.0 // seconds

type sample struct {
	at    clock.Timer
	bytes uint64
}

// PeerStat tracks cumulative upload/download byte counts and windowed rates
// for a single peer session.
type PeerStat struct {
	clk clock.Clock

	uploadTotal   uint64
	downloadTotal uint64

	uploadSamples   []sample
	downloadSamples []sample

	startedAt clock.Timer
}

// New returns a PeerStat reading time from clk.
func New(clk clock.Clock) *PeerStat {
	return &PeerStat{clk: clk}
}

// DownloadStart resets the window baseline; called once when a session
// allocates its PeerStat.
func (s *PeerStat) DownloadStart() {
	s.startedAt = s.clk.Now()
}

// UpdateUploadLength adds n bytes to the cumulative upload counter and
// records a sample for the windowed rate.
func (s *PeerStat) UpdateUploadLength(n uint64) {
	s.uploadTotal += n
	s.uploadSamples = appendSample(s.uploadSamples, s.clk.Now(), n)
}

// UpdateDownloadLength adds n bytes to the cumulative download counter and
// records a sample for the windowed rate.
func (s *PeerStat) UpdateDownloadLength(n uint64) {
	s.downloadTotal += n
	s.downloadSamples = appendSample(s.downloadSamples, s.clk.Now(), n)
}

// UploadLength returns the total bytes uploaded this session. Monotonic.
func (s *PeerStat) UploadLength() uint64 { return s.uploadTotal }

// DownloadLength returns the total bytes downloaded this session. Monotonic.
func (s *PeerStat) DownloadLength() uint64 { return s.downloadTotal }

// CalculateUploadSpeed returns the average upload bytes/sec over the
// trailing window, or 0 if no sample fell inside it.
func (s *PeerStat) CalculateUploadSpeed() uint64 {
	return windowedRate(s.uploadSamples, s.clk.Now())
}

// CalculateDownloadSpeed returns the average download bytes/sec over the
// trailing window, or 0 if no sample fell inside it.
func (s *PeerStat) CalculateDownloadSpeed() uint64 {
	return windowedRate(s.downloadSamples, s.clk.Now())
}

func appendSample(samples []sample, at clock.Timer, n uint64) []sample {
	samples = append(samples, sample{at: at, bytes: n})

	// Drop samples older than 2x the window; keeps the slice bounded
	// without needing a ring buffer for the volumes a single peer sees.
	cut := 0
	for i, sm := range samples {
		if sm.at.Difference(at) <= 2*window {
			cut = i
			break
		}
		cut = i + 1
	}
	return samples[cut:]
}

func windowedRate(samples []sample, now clock.Timer) uint64 {
	if len(samples) == 0 {
		return 0
	}

	var total uint64
	oldest := now
	for _, sm := range samples {
		if sm.at.Difference(now) > window {
			continue
		}
		total += sm.bytes
		if sm.at.Difference(now) > oldest.Difference(now) {
			oldest = sm.at
		}
	}
	if total == 0 {
		return 0
	}

	elapsed := oldest.Difference(now)
	if elapsed < 1 {
		elapsed = 1
	}
	return uint64(float64(total) / elapsed)
}
