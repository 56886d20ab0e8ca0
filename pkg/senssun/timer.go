package senssun

import "time"

// singleShot is a re-armable one-off timer. Every arm / cancel bumps the generation, so a
// callback that already left the runtime timer queue can detect it has been superseded.
// Not safe for concurrent use, callers serialize access.
type singleShot struct {
	t   *time.Timer
	gen uint64
}

func (s *singleShot) arm(d time.Duration, fn func(gen uint64)) {
	gen := s.cancel()
	s.t = time.AfterFunc(d, func() { fn(gen) })
}

func (s *singleShot) cancel() uint64 {
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
	s.gen++
	return s.gen
}

func (s *singleShot) current(gen uint64) bool {
	return s.t != nil && s.gen == gen
}

// fired marks the timer as expired, it must be called while holding the lock the timer is
// guarded by and only if current returned true
func (s *singleShot) fired() {
	s.t = nil
}
