package auth

import "time"

// SetClock replaces the service clock. Tests use it to step past expiry.
func SetClock(s *Service, now func() time.Time) {
	s.now = now
}
