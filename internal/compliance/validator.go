// Package compliance checks rental documents against state landlord-tenant
// rules through an external legal-analysis classifier.
package compliance

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/common/metrics"
	"rental-docflow/internal/common/validation"
	"rental-docflow/internal/models"
	"rental-docflow/internal/store"
)

const responseSchema = `{
  "type": "object",
  "required": ["isValid", "issues", "jurisdictionCompliance", "riskLevel"],
  "properties": {
    "isValid": {"type": "boolean"},
    "issues":  {"type": "array", "items": {"type": "string"}},
    "jurisdictionCompliance": {
      "type": "object",
      "required": ["isCompliant", "requiredRules"],
      "properties": {
        "isCompliant":   {"type": "boolean"},
        "requiredRules": {"type": "array", "items": {"type": "string"}}
      }
    },
    "riskLevel": {"type": "string", "enum": ["low", "medium", "high"]}
  }
}`

// Repository is the persistence the validator needs.
type Repository interface {
	store.ComplianceRepository
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

type classifierResponse struct {
	IsValid                bool                          `json:"isValid"`
	Issues                 []string                      `json:"issues"`
	JurisdictionCompliance models.JurisdictionCompliance `json:"jurisdictionCompliance"`
	RiskLevel              models.RiskLevel              `json:"riskLevel"`
}

type Validator struct {
	repo       Repository
	text       TextSource
	classifier Classifier
	timeout    time.Duration
	logger     logger.Logger
	now        func() time.Time
}

func NewValidator(repo Repository, text TextSource, classifier Classifier, timeout time.Duration, log logger.Logger) *Validator {
	return &Validator{
		repo:       repo,
		text:       text,
		classifier: classifier,
		timeout:    timeout,
		logger:     logger.ForComponent(log, "compliance"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Validate classifies the document and stores a new report. No report is
// stored when the classifier cannot be reached or answers out of shape.
func (v *Validator) Validate(ctx context.Context, documentID, jurisdiction string, docType models.DocumentType) (*models.ComplianceReport, error) {
	return v.validate(ctx, "", documentID, jurisdiction, docType)
}

// ValidateForStep is Validate with the report linked to a workflow step.
func (v *Validator) ValidateForStep(ctx context.Context, stepID, documentID, jurisdiction string, docType models.DocumentType) (*models.ComplianceReport, error) {
	return v.validate(ctx, stepID, documentID, jurisdiction, docType)
}

func (v *Validator) validate(ctx context.Context, stepID, documentID, jurisdiction string, docType models.DocumentType) (*models.ComplianceReport, error) {
	if documentID == "" {
		return nil, apperr.NewValidationError("documentId is required")
	}
	if !docType.Valid() {
		return nil, apperr.NewValidationError("unknown document type " + string(docType))
	}
	jurisdiction = strings.ToUpper(strings.TrimSpace(jurisdiction))

	doc, err := v.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	text, err := v.text.Text(ctx, doc.StorageURL)
	if err != nil {
		return nil, err
	}

	in := ClassificationInput{
		DocumentText:      text,
		Jurisdiction:      jurisdiction,
		DocumentType:      docType,
		JurisdictionRules: RulesFor(jurisdiction),
	}

	start := time.Now()
	raw, err := timedClassify(ctx, v.classifier, in, v.timeout)
	if err != nil {
		metrics.ClassifierCalls.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}

	parsed, err := parseResponse(raw)
	if err != nil {
		metrics.ClassifierCalls.WithLabelValues("invalid").Observe(time.Since(start).Seconds())
		v.logger.Warn("classifier returned malformed response", map[string]interface{}{
			"documentId": documentID,
			"error":      err,
		})
		return nil, err
	}
	metrics.ClassifierCalls.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	report := &models.ComplianceReport{
		DocumentID:             documentID,
		StepID:                 stepID,
		Jurisdiction:           jurisdiction,
		DocumentType:           docType,
		IsValid:                parsed.IsValid,
		Issues:                 nonNil(parsed.Issues),
		JurisdictionCompliance: parsed.JurisdictionCompliance,
		RiskLevel:              parsed.RiskLevel,
		ClassifierModel:        v.classifier.Model(),
		CreatedAt:              v.now(),
	}
	report.JurisdictionCompliance.RequiredRules = nonNil(report.JurisdictionCompliance.RequiredRules)

	if err := v.repo.CreateComplianceReport(ctx, report); err != nil {
		return nil, err
	}

	v.logger.Info("compliance report stored", map[string]interface{}{
		"documentId":   documentID,
		"reportId":     report.ID,
		"jurisdiction": jurisdiction,
		"isValid":      report.IsValid,
		"riskLevel":    report.RiskLevel,
		"issues":       len(report.Issues),
	})
	return report, nil
}

// parseResponse checks the classifier output against the expected shape.
// Models sometimes wrap JSON in a markdown fence; that is tolerated.
func parseResponse(raw string) (*classifierResponse, error) {
	body := stripFence(raw)
	if body == "" {
		return nil, apperr.NewClassifierResponseInvalidError("empty response")
	}

	check, err := validation.ValidateJSON(responseSchema, []byte(body))
	if err != nil {
		return nil, apperr.NewClassifierResponseInvalidError("response is not JSON: " + err.Error())
	}
	if !check.Valid {
		return nil, apperr.NewClassifierResponseInvalidError(check.Summary())
	}

	var out classifierResponse
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, apperr.NewClassifierResponseInvalidError(err.Error())
	}
	return &out, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (v *Validator) Get(ctx context.Context, reportID string) (*models.ComplianceReport, error) {
	return v.repo.GetComplianceReport(ctx, reportID)
}

// History lists every report kept for a document, oldest first.
func (v *Validator) History(ctx context.Context, documentID string) ([]models.ComplianceReport, error) {
	return v.repo.ListComplianceReports(ctx, documentID)
}
