package models

// VerificationVerdict is the bot-verification collaborator's judgment for one
// token. It is never persisted.
type VerificationVerdict struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	Action     string   `json:"action,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// Acceptable reports whether the verdict lets a submission through: success is
// required, and a score, when present, must reach minScore.
func (v *VerificationVerdict) Acceptable(minScore float64) bool {
	if v == nil || !v.Success {
		return false
	}
	return v.Score == nil || *v.Score >= minScore
}
