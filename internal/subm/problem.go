package subm

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/normal-oj/submissions/pkg/errs"
)

// ProblemConfig is the slice of problem metadata this subsystem needs. Problem
// CRUD itself lives in another service; configs are pushed in at startup and
// whenever the owning service changes them.
type ProblemConfig struct {
	ProblemID int    `toml:"problem_id"`
	Course    string `toml:"course"`

	// Quota is the submission ceiling per user per window. Zero or negative
	// disables enforcement.
	Quota int `toml:"quota"`

	CanViewStdout bool `toml:"can_view_stdout"`

	// ArtifactTasks lists task indexes with artifact collection enabled.
	ArtifactTasks []int `toml:"artifact_tasks"`

	// CollectBinary enables compiled-binary retention for submissions.
	CollectBinary bool `toml:"collect_binary"`

	// TaskWeights is the score contributed by each task when accepted. When
	// empty, tasks share 100 points equally.
	TaskWeights []int `toml:"task_weights"`
}

func (p ProblemConfig) ArtifactEnabled(taskIndex int) bool {
	for _, t := range p.ArtifactTasks {
		if t == taskIndex {
			return true
		}
	}
	return false
}

// Catalog is a concurrent, read-mostly registry of problem configs.
type Catalog struct {
	problems *xsync.MapOf[int, ProblemConfig]
}

func NewCatalog() *Catalog {
	return &Catalog{problems: xsync.NewMapOf[int, ProblemConfig]()}
}

func (c *Catalog) Put(cfg ProblemConfig) {
	c.problems.Store(cfg.ProblemID, cfg)
}

func (c *Catalog) Get(problemID int) (ProblemConfig, error) {
	cfg, ok := c.problems.Load(problemID)
	if !ok {
		return ProblemConfig{}, errs.New(errs.KindNotFound, "problem %d not found", problemID)
	}
	return cfg, nil
}

func (c *Catalog) Exists(problemID int) bool {
	_, ok := c.problems.Load(problemID)
	return ok
}
