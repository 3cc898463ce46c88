// Package permgate decides field-level visibility of submissions. It is a pure
// function of the actor, the submission and the owning problem's config; it
// performs no IO so callers can apply it before touching any payload store.
package permgate

import (
	"github.com/normal-oj/submissions/internal/subm"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Actor is the authenticated caller as resolved by the platform's auth
// gateway. Teaches lists the courses a teacher is scoped to.
type Actor struct {
	User    string
	Role    Role
	Teaches []string
}

func (a Actor) teaches(course string) bool {
	if a.Role != RoleTeacher {
		return false
	}
	for _, c := range a.Teaches {
		if c == course {
			return true
		}
	}
	return false
}

// CanManage reports whether the actor may administer the problem's test data,
// e.g. upload test-case bundles.
func CanManage(actor Actor, cfg subm.ProblemConfig) bool {
	return actor.Role == RoleAdmin || actor.teaches(cfg.Course)
}

// Field is a gated part of a submission view.
type Field string

const (
	FieldCode     Field = "code"
	FieldOutput   Field = "output" // stdout, stderr, diff, custom checker
	FieldBinary   Field = "compiledBinary"
	FieldArtifact Field = "artifact"
)

type Decision int

const (
	Denied Decision = iota
	// Redacted means the actor is entitled to the field but receives a
	// substitute, e.g. a download URL instead of inline archive code.
	Redacted
	Visible
)

type capability uint8

const (
	capView capability = 1 << iota
	capViewCode
	capViewOutput
	capViewBinary
	capViewArtifact
)

func capabilities(actor Actor, cfg subm.ProblemConfig, s *subm.Submission) capability {
	if actor.Role == RoleAdmin || actor.teaches(cfg.Course) {
		return capView | capViewCode | capViewOutput | capViewBinary | capViewArtifact
	}
	if actor.User == s.Owner {
		cap := capView | capViewCode | capViewBinary | capViewArtifact
		// Owners see raw outputs when the problem grants it, when their
		// submission failed to compile, or when the problem collects
		// artifacts at all.
		if cfg.CanViewStdout || s.Status == subm.StatusCompileError || len(cfg.ArtifactTasks) > 0 {
			cap |= capViewOutput
		}
		return cap
	}
	return 0
}

// CanView reports whether the actor may see the submission at all.
// Handwritten submissions are feedback material and stay between the owner
// and the course staff; everyone else is denied regardless of kind.
func CanView(actor Actor, cfg subm.ProblemConfig, s *subm.Submission) bool {
	return capabilities(actor, cfg, s)&capView != 0
}

// Decide resolves one field for one actor. Archive submissions never expose
// code inline: entitled actors get Redacted and a download URL is substituted.
func Decide(actor Actor, cfg subm.ProblemConfig, s *subm.Submission, f Field) Decision {
	caps := capabilities(actor, cfg, s)
	need := capView
	switch f {
	case FieldCode:
		need = capViewCode
	case FieldOutput:
		need = capViewOutput
	case FieldBinary:
		need = capViewBinary
	case FieldArtifact:
		need = capViewArtifact
	}
	if caps&need == 0 {
		return Denied
	}
	if f == FieldCode && s.Kind == subm.KindArchive {
		return Redacted
	}
	return Visible
}
