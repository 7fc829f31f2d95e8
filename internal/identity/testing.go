package identity

import "golang.org/x/crypto/bcrypt"

// UseMinCost lowers the bcrypt cost so tests that register many users stay fast.
func UseMinCost(s *Service) {
	s.cost = bcrypt.MinCost
}
