package equipment

// Condition codes carried in the Code field of a failed Envelope.
const (
	CodeOverSizeLimit    = "OVER_SIZE_LIMIT"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInternal         = "INTERNAL"
)

// Envelope is the uniform wrapper of every authority response. A response with
// Success=false carries no payload.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// PullRequest asks for every change after LastSyncTime. A nil LastSyncTime means the epoch.
type PullRequest struct {
	LastSyncTime *Timestamp `json:"lastSyncTime"`
}

// PullResult lists live records updated after the watermark and ids deleted after it.
type PullResult struct {
	Updates []Record `json:"updates"`
	Deletes []string `json:"deletes"`
}

// PullResponse is the wire form of a pull answer.
type PullResponse struct {
	Envelope
	PullResult
}

// PushRequest carries one batch of local changes.
type PushRequest struct {
	Updates          []Record `json:"updates"`
	Deletes          []string `json:"deletes"`
	PermanentDeletes []string `json:"permanentDeletes,omitempty"`
}

// Size counts every item against the authority's batch cap.
func (r PushRequest) Size() int {
	return len(r.Updates) + len(r.Deletes) + len(r.PermanentDeletes)
}

// PushResult reports per-kind counts of an applied batch.
type PushResult struct {
	UpdatedCount int `json:"updatedCount"`
	DeletedCount int `json:"deletedCount"`
}

// PushResponse is the wire form of a push answer.
type PushResponse struct {
	Envelope
	PushResult
}

// ChangeNotice is broadcast to stream subscribers after a batch changed canonical state.
type ChangeNotice struct {
	Type      string    `json:"type"`
	IDs       []string  `json:"ids"`
	Timestamp Timestamp `json:"timestamp"`
}

// ChangeNoticeType is the Type of every ChangeNotice.
const ChangeNoticeType = "equipment-changed"
