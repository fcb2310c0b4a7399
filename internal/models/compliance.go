// internal/models/compliance.go
package models

import "time"

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type JurisdictionCompliance struct {
	IsCompliant   bool     `json:"isCompliant"`
	RequiredRules []string `json:"requiredRules"`
}

// ComplianceReport is immutable; re-validation appends a new report.
type ComplianceReport struct {
	ID                     string                 `json:"id"`
	DocumentID             string                 `json:"documentId"`
	StepID                 string                 `json:"stepId,omitempty"`
	Jurisdiction           string                 `json:"jurisdiction"`
	DocumentType           DocumentType           `json:"documentType"`
	IsValid                bool                   `json:"isValid"`
	Issues                 []string               `json:"issues"`
	JurisdictionCompliance JurisdictionCompliance `json:"jurisdictionCompliance"`
	RiskLevel              RiskLevel              `json:"riskLevel"`
	ClassifierModel        string                 `json:"classifierModel,omitempty"`
	CreatedAt              time.Time              `json:"createdAt"`
}
