package api

// Message types the grading pipeline pushes onto the result queue. Each queue
// message is one JSON document whose msg_type selects the concrete shape.
const (
	MsgTypeTaskResult     = "task_result"
	MsgTypeTaskOutput     = "task_output"
	MsgTypeCaseArtifact   = "case_artifact"
	MsgTypeCompiledBinary = "compiled_binary"
	MsgTypeFinalized      = "finalized"
)

type IngestHeader struct {
	SubmissionID string `json:"submission_id"`
	MsgType      string `json:"msg_type"`
}

type TaskResultMsg struct {
	IngestHeader
	TaskIndex   int    `json:"task_index"`
	Verdict     string `json:"verdict"`
	CasesPassed []bool `json:"cases_passed"`
}

type TaskOutputMsg struct {
	IngestHeader
	TaskIndex int    `json:"task_index"`
	CaseIndex int    `json:"case_index"`
	Kind      string `json:"kind"`
	Payload   []byte `json:"payload"`
}

type CaseArtifactMsg struct {
	IngestHeader
	TaskIndex int    `json:"task_index"`
	CaseIndex int    `json:"case_index"`
	Archive   []byte `json:"archive"`
}

type CompiledBinaryMsg struct {
	IngestHeader
	Binary []byte `json:"binary"`
}

type FinalizedMsg struct {
	IngestHeader
	Status string `json:"status"`
}
