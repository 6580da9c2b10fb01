package envelope

// SubmitTurnRequest is the body of a turn submission, over HTTP or as a
// WebSocket control frame.
type SubmitTurnRequest struct {
	WriterID string `json:"writerId"`
	Content  string `json:"content"`
	Mode     string `json:"mode,omitempty"`
}

// Validate rejects a submission before it reaches the queue.
func (r *SubmitTurnRequest) Validate() error {
	if r.WriterID == "" {
		return &ValidationError{Field: "writerId", Reason: "writer id is required"}
	}
	if r.Content == "" {
		return &ValidationError{Field: "content", Reason: "content is required"}
	}
	return nil
}

// PermissionDecisionRequest is the body of a permission resolution.
type PermissionDecisionRequest struct {
	Decision  string `json:"decision"`
	DecidedBy string `json:"decidedBy"`
}

// Validate rejects a decision before it reaches the coordinator.
func (r *PermissionDecisionRequest) Validate() error {
	if r.Decision != "allowed" && r.Decision != "denied" {
		return &ValidationError{Field: "decision", Reason: `must be "allowed" or "denied"`}
	}
	if r.DecidedBy == "" {
		return &ValidationError{Field: "decidedBy", Reason: "decider identity is required"}
	}
	return nil
}
