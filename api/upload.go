package api

// InitiateUploadReq is the body of POST /problem/:id/initiate-test-case-upload.
type InitiateUploadReq struct {
	Length   int64 `json:"length" validate:"required"`
	PartSize int64 `json:"part_size" validate:"required"`
}

type UploadSessionResp struct {
	SessionID string `json:"session_id"`
	ProblemID int    `json:"problem_id"`
	PartCount int32  `json:"part_count"`
	State     string `json:"state"`
}

type PartLocationResp struct {
	PartNumber int32  `json:"part_number"`
	URL        string `json:"url"`
}

// ReportPartReq acknowledges that one part landed in storage, carrying the
// ETag the storage backend returned for it.
type ReportPartReq struct {
	ETag string `json:"etag" validate:"required"`
}

// ReportedPart mirrors the (PartNumber, ETag) pairs storage hands back to the
// uploading client.
type ReportedPart struct {
	PartNumber int32  `json:"part_number" validate:"required"`
	ETag       string `json:"etag" validate:"required"`
}

// CompleteUploadReq is the body of PUT /problem/:id/complete-test-case-upload.
// SessionID may be omitted; the problem's live session is assumed then.
type CompleteUploadReq struct {
	SessionID string         `json:"session_id"`
	Parts     []ReportedPart `json:"etags" validate:"required,dive"`
}
