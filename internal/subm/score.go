package subm

// ScorePolicy turns the per-task verdicts of a finished submission into its
// score. The grading policy belongs to the problem service; the store only
// applies the function it is constructed with.
type ScorePolicy func(cfg ProblemConfig, tasks []TaskResult) int

// WeightedScorePolicy awards each accepted task its configured weight. Tasks
// without a configured weight share 100 points equally, with the remainder
// going to the last task.
func WeightedScorePolicy(cfg ProblemConfig, tasks []TaskResult) int {
	if len(tasks) == 0 {
		return 0
	}
	score := 0
	for i, t := range tasks {
		if t.Verdict != StatusAccepted {
			continue
		}
		score += taskWeight(cfg, i, len(tasks))
	}
	return score
}

func taskWeight(cfg ProblemConfig, index, total int) int {
	if index < len(cfg.TaskWeights) {
		return cfg.TaskWeights[index]
	}
	w := 100 / total
	if index == total-1 {
		w = 100 - w*(total-1)
	}
	return w
}
