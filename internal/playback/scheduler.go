package playback

import "time"

// Scheduler places decoded frames on a sample-accurate timeline. Frames are
// scheduled back to back at a high-water mark so bursts of small frames play
// gaplessly; after silence the mark snaps forward to a short lookahead past
// the playhead, absorbing scheduling jitter. All positions are in samples.
// Callers must serialize access.
type Scheduler struct {
	sampleRate int
	lookahead  int64

	playhead  int64
	watermark int64
	started   bool

	fading    bool
	fadeStart int64
	fadeLen   int64

	queue []scheduledFrame
}

type scheduledFrame struct {
	samples []float32
	start   int64
}

// NewScheduler builds a scheduler with the given output rate and lookahead.
func NewScheduler(sampleRate int, lookahead time.Duration) *Scheduler {
	return &Scheduler{
		sampleRate: sampleRate,
		lookahead:  durationToSamples(lookahead, sampleRate),
	}
}

// Add schedules a frame and returns its start position. The first frame of a
// burst starts one lookahead past the playhead; subsequent frames continue at
// the high-water mark.
func (s *Scheduler) Add(samples []float32) int64 {
	start := s.playhead + s.lookahead
	if s.started && s.watermark > start {
		start = s.watermark
	}
	s.started = true
	s.watermark = start + int64(len(samples))
	s.queue = append(s.queue, scheduledFrame{samples: samples, start: start})
	return start
}

// Pending reports whether any scheduled audio remains unplayed.
func (s *Scheduler) Pending() bool { return len(s.queue) > 0 }

// Playhead returns the current playback position in samples.
func (s *Scheduler) Playhead() int64 { return s.playhead }

// Stop drops all scheduled audio and resets the high-water mark. The next
// Add schedules relative to the playhead again.
func (s *Scheduler) Stop() {
	s.queue = nil
	s.started = false
	s.fading = false
}

// FadeOut ramps the output to silence over the given duration, then stops.
// A zero duration stops immediately.
func (s *Scheduler) FadeOut(d time.Duration) {
	n := durationToSamples(d, s.sampleRate)
	if n <= 0 || !s.Pending() {
		s.Stop()
		return
	}
	s.fading = true
	s.fadeStart = s.playhead
	s.fadeLen = n
}

// Render fills out with the next block of audio and advances the playhead.
// It reports whether this block drained the last scheduled sample.
func (s *Scheduler) Render(out []float32) bool {
	for i := range out {
		out[i] = 0
	}
	blockStart := s.playhead
	blockEnd := blockStart + int64(len(out))

	hadAudio := len(s.queue) > 0
	remaining := s.queue[:0]
	for _, f := range s.queue {
		frameEnd := f.start + int64(len(f.samples))
		if frameEnd <= blockStart {
			continue
		}
		if f.start < blockEnd {
			from := max64(f.start, blockStart)
			to := min64(frameEnd, blockEnd)
			copy(out[from-blockStart:to-blockStart], f.samples[from-f.start:to-f.start])
		}
		if frameEnd > blockEnd {
			remaining = append(remaining, f)
		}
	}
	s.queue = remaining

	if s.fading {
		s.applyFade(out, blockStart)
	}

	s.playhead = blockEnd
	if hadAudio && len(s.queue) == 0 {
		s.started = false
		s.fading = false
		return true
	}
	return false
}

func (s *Scheduler) applyFade(out []float32, blockStart int64) {
	for i := range out {
		pos := blockStart + int64(i) - s.fadeStart
		if pos < 0 {
			continue
		}
		if pos >= s.fadeLen {
			out[i] = 0
			continue
		}
		gain := 1 - float32(pos+1)/float32(s.fadeLen)
		out[i] *= gain
	}
	if blockStart+int64(len(out)) >= s.fadeStart+s.fadeLen {
		s.Stop()
	}
}

func durationToSamples(d time.Duration, sampleRate int) int64 {
	return int64(d.Seconds() * float64(sampleRate))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
