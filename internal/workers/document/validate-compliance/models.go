// internal/workers/document/validate-compliance/models.go
package validatecompliance

type Input struct {
	DocumentID  string `json:"documentId"`
	StepID      string `json:"stepId"`
	ActorID     string `json:"actorId,omitempty"`
	AutoAdvance *bool  `json:"autoAdvance,omitempty"`
}

type Output struct {
	ReportID   string   `json:"reportId"`
	IsValid    bool     `json:"isValid"`
	RiskLevel  string   `json:"riskLevel"`
	Issues     []string `json:"issues"`
	StepStatus string   `json:"stepStatus"`
}
