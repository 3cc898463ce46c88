// Package quota enforces per-(user, problem, window) submission ceilings.
package quota

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/pkg/errs"
)

type key struct {
	User      string
	ProblemID int
	Window    string
}

// Enforcer keeps one counter per (user, problem, window). Check-and-increment
// is atomic per key: with one slot left, two racing callers resolve to exactly
// one success and one QuotaExceeded.
type Enforcer struct {
	catalog *subm.Catalog
	counts  *xsync.MapOf[key, int]
}

func NewEnforcer(catalog *subm.Catalog) *Enforcer {
	return &Enforcer{
		catalog: catalog,
		counts:  xsync.NewMapOf[key, int](),
	}
}

// CheckAndIncrement consumes one quota slot, or fails with QuotaExceeded if
// the problem's ceiling is already reached for this window. A ceiling of zero
// or below disables enforcement for the problem.
func (e *Enforcer) CheckAndIncrement(user string, problemID int, window string) error {
	cfg, err := e.catalog.Get(problemID)
	if err != nil {
		return err
	}
	if cfg.Quota <= 0 {
		return nil
	}

	exceeded := false
	e.counts.Compute(key{User: user, ProblemID: problemID, Window: window},
		func(old int, _ bool) (int, bool) {
			if old >= cfg.Quota {
				exceeded = true
				return old, false
			}
			return old + 1, false
		})
	if exceeded {
		return errs.New(errs.KindQuotaExceeded,
			"user %s has used all %d submissions for problem %d in window %s",
			user, cfg.Quota, problemID, window)
	}
	return nil
}

// Release hands back one consumed slot, for callers whose work failed after
// the increment. Releasing below zero is clamped.
func (e *Enforcer) Release(user string, problemID int, window string) {
	e.counts.Compute(key{User: user, ProblemID: problemID, Window: window},
		func(old int, loaded bool) (int, bool) {
			if !loaded || old <= 1 {
				return 0, true
			}
			return old - 1, false
		})
}

// Used returns how many slots the user has consumed in the window.
func (e *Enforcer) Used(user string, problemID int, window string) int {
	n, _ := e.counts.Load(key{User: user, ProblemID: problemID, Window: window})
	return n
}
