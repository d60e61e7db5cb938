package testutil

import "testing"

// Scenario runs Given/When/Then steps as ordered subtests of t. Once a step
// fails, the remaining steps are skipped.
type Scenario struct {
	t      *testing.T
	failed string
}

func NewScenario(t *testing.T) *Scenario {
	t.Helper()
	return &Scenario{t: t}
}

func (s *Scenario) Given(desc string, fn func(t *testing.T)) { s.step("Given", desc, fn) }

func (s *Scenario) When(desc string, fn func(t *testing.T)) { s.step("When", desc, fn) }

func (s *Scenario) Then(desc string, fn func(t *testing.T)) { s.step("Then", desc, fn) }

func (s *Scenario) step(keyword, desc string, fn func(t *testing.T)) {
	s.t.Helper()
	name := keyword + " " + desc
	if s.failed != "" {
		s.t.Run(name, func(t *testing.T) {
			t.Skipf("skipped: %q failed", s.failed)
		})
		return
	}
	if !s.t.Run(name, fn) {
		s.failed = name
	}
}
