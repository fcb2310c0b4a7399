// Package workflow moves a rental document through its ordered approval
// steps. Every status change is a conditional update, so concurrent callers
// racing on the same step produce exactly one transition.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/common/metrics"
	"rental-docflow/internal/common/observability"
	"rental-docflow/internal/models"
	"rental-docflow/internal/store"
)

// SystemActor is recorded when a transition is driven by an external callback.
const SystemActor = "system"

type Repository interface {
	store.Transactor
	store.DocumentRepository
	store.StepRepository
	store.ComplianceRepository
}

type Validator interface {
	ValidateForStep(ctx context.Context, stepID, documentID, jurisdiction string, docType models.DocumentType) (*models.ComplianceReport, error)
}

type Verifier interface {
	Initiate(ctx context.Context, req models.VerificationRequest) (*models.VerificationResult, error)
}

type SignatureChecker interface {
	AllSigned(ctx context.Context, documentID string) (bool, error)
}

type AuditWriter interface {
	Record(ctx context.Context, documentID string, action models.AuditAction, actorID string, details map[string]interface{}) (*models.AuditLogEntry, error)
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type Publisher interface {
	Publish(ctx context.Context, event models.DocumentEvent) error
}

// Dependencies groups the collaborators. Validator, Verifier, Signatures,
// Notifier and Publisher are optional.
type Dependencies struct {
	Repo          Repository
	Audit         AuditWriter
	Validator     Validator
	Verifier      Verifier
	Signatures    SignatureChecker
	Notifier      Notifier
	Publisher     Publisher
	Observability *observability.Observability
}

type Orchestrator struct {
	repo       Repository
	audit      AuditWriter
	validator  Validator
	verifier   Verifier
	signatures SignatureChecker
	notifier   Notifier
	publisher  Publisher
	obs        *observability.Observability
	logger     logger.Logger
	now        func() time.Time
}

func NewOrchestrator(deps Dependencies, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		repo:       deps.Repo,
		audit:      deps.Audit,
		validator:  deps.Validator,
		verifier:   deps.Verifier,
		signatures: deps.Signatures,
		notifier:   deps.Notifier,
		publisher:  deps.Publisher,
		obs:        deps.Observability,
		logger:     logger.ForComponent(log, "workflow"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.obs.Tracer().Start(ctx, "workflow."+name, trace.WithAttributes(attrs...))
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, name string, started time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	o.obs.RecordOperation(ctx, "workflow."+name, started, err)
}

// StartWorkflow creates the document's steps, all pending, in order. Only the
// first can start until its predecessors complete.
func (o *Orchestrator) StartWorkflow(ctx context.Context, documentID string, defs []StepDefinition, actorID string) (steps []models.WorkflowStep, err error) {
	started := time.Now()
	ctx, span := o.span(ctx, "StartWorkflow", attribute.String("document.id", documentID))
	defer func() { o.finish(ctx, span, "StartWorkflow", started, err) }()

	if documentID == "" {
		return nil, apperr.NewValidationError("documentId is required")
	}
	if err := validateDefinitions(defs); err != nil {
		return nil, err
	}

	err = o.repo.WithinTx(ctx, func(ctx context.Context) error {
		doc, err := o.repo.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		existing, err := o.repo.ListSteps(ctx, documentID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperr.NewAlreadyStartedError(documentID)
		}

		now := o.now()
		steps = make([]models.WorkflowStep, len(defs))
		for i, d := range defs {
			steps[i] = models.WorkflowStep{
				DocumentID:         documentID,
				Position:           i,
				Name:               models.StepName(strings.TrimSpace(string(d.Name))),
				Status:             models.StepStatusPending,
				AssigneeID:         d.AssigneeID,
				RequiresValidation: d.RequiresValidation,
				AwaitsSignatures:   d.AwaitsSignatures,
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			if d.DueIn > 0 {
				due := now.Add(d.DueIn)
				steps[i].DueDate = &due
			}
		}
		if err := o.repo.CreateSteps(ctx, steps); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return apperr.NewAlreadyStartedError(documentID)
			}
			return err
		}

		o.publish(ctx, models.DocumentEvent{
			Type:       models.EventWorkflowStarted,
			DocumentID: doc.ID,
			ActorID:    actorID,
			Data:       map[string]interface{}{"steps": len(steps)},
		})
		return o.syncDocumentStatus(ctx, documentID, actorID)
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("workflow started", map[string]interface{}{
		"documentId": documentID,
		"steps":      len(steps),
	})
	return steps, nil
}

// Activate moves a pending step to in_progress once every earlier step is
// completed.
func (o *Orchestrator) Activate(ctx context.Context, stepID, actorID string) (step *models.WorkflowStep, err error) {
	started := time.Now()
	ctx, span := o.span(ctx, "Activate", attribute.String("step.id", stepID))
	defer func() { o.finish(ctx, span, "Activate", started, err) }()

	err = o.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		step, err = o.activate(ctx, stepID, actorID)
		if err != nil {
			return err
		}
		return o.syncDocumentStatus(ctx, step.DocumentID, actorID)
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (o *Orchestrator) activate(ctx context.Context, stepID, actorID string) (*models.WorkflowStep, error) {
	step, err := o.repo.TransitionStep(ctx, models.StepTransition{
		StepID:                       stepID,
		From:                         []models.StepStatus{models.StepStatusPending},
		To:                           models.StepStatusInProgress,
		RequireCompletedPredecessors: true,
	})
	if err != nil {
		return nil, o.staleOr(err, stepID)
	}
	if err := o.requireSignatures(ctx, step); err != nil {
		return nil, err
	}

	o.countTransition(ctx, step)
	o.publish(ctx, models.DocumentEvent{
		Type:       models.EventStepActivated,
		DocumentID: step.DocumentID,
		StepID:     step.ID,
		Status:     string(step.Status),
		ActorID:    actorID,
		Data:       map[string]interface{}{"step": string(step.Name)},
	})
	if step.AssigneeID != "" {
		o.notify(ctx, models.Notification{
			RecipientID: step.AssigneeID,
			DocumentID:  step.DocumentID,
			Type:        models.NotificationStepActivated,
			Title:       "Action required",
			Message:     fmt.Sprintf("The %s step is ready for you.", humanize(step.Name)),
			Priority:    models.PriorityNormal,
		})
	}
	return step, nil
}

// Advance applies an outcome to a step. It is a conditional update on the
// step status; a caller that lost the race gets StaleStepState and nothing
// is written.
func (o *Orchestrator) Advance(ctx context.Context, stepID string, outcome Outcome) (step *models.WorkflowStep, err error) {
	started := time.Now()
	ctx, span := o.span(ctx, "Advance",
		attribute.String("step.id", stepID),
		attribute.String("outcome.kind", string(outcome.Kind)),
	)
	defer func() { o.finish(ctx, span, "Advance", started, err) }()

	if err := outcome.validate(); err != nil {
		return nil, err
	}

	err = o.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		step, err = o.advance(ctx, stepID, outcome)
		return err
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("workflow step advanced", map[string]interface{}{
		"stepId":     step.ID,
		"documentId": step.DocumentID,
		"step":       step.Name,
		"status":     step.Status,
		"outcome":    outcome.Kind,
	})
	return step, nil
}

func (o *Orchestrator) advance(ctx context.Context, stepID string, outcome Outcome) (*models.WorkflowStep, error) {
	current, err := o.repo.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, apperr.NewStaleStepStateError(stepID, "step is already "+string(current.Status))
	}

	details := map[string]interface{}{
		"stepId":  current.ID,
		"step":    string(current.Name),
		"outcome": string(outcome.Kind),
	}
	if outcome.Reason != "" {
		details["reason"] = strings.TrimSpace(outcome.Reason)
	}

	var (
		to     models.StepStatus
		action models.AuditAction
	)
	switch outcome.Kind {
	case OutcomeReject:
		to, action = models.StepStatusRejected, models.AuditReject

	case OutcomeApprove:
		if current.RequiresValidation {
			blocked, why, err := o.complianceBlocks(ctx, current, outcome.Report)
			if err != nil {
				return nil, err
			}
			if blocked && !outcome.Override {
				return nil, apperr.NewComplianceBlockedError(current.ID, why)
			}
			if blocked {
				details["override"] = true
				details["overriddenCondition"] = why
			}
		}
		to, action = models.StepStatusCompleted, models.AuditApprove

	case OutcomeVerification:
		v := outcome.Verification
		details["verificationId"] = v.ID
		details["verificationType"] = string(v.Type)
		details["verificationStatus"] = string(v.Status)
		if v.Status != models.VerificationVerified {
			note := fmt.Sprintf("%s verification failed", v.Type)
			if v.Note != "" {
				note += ": " + v.Note
			}
			return o.block(ctx, current, outcome.ActorID, note, details)
		}
		to, action = models.StepStatusCompleted, models.AuditApprove

	case OutcomeCompliance:
		r, err := o.repo.GetComplianceReport(ctx, outcome.Report.ID)
		if err != nil {
			return nil, err
		}
		if r.DocumentID != current.DocumentID {
			return nil, apperr.NewValidationError(fmt.Sprintf("compliance report %s belongs to another document", r.ID))
		}
		details["reportId"] = r.ID
		details["riskLevel"] = string(r.RiskLevel)
		if r.ID != current.ComplianceReportID {
			if err := o.repo.AttachComplianceReport(ctx, current.ID, r.ID, ""); err != nil {
				return nil, o.staleOr(err, current.ID)
			}
		}
		if !r.IsValid {
			note := "compliance report is invalid"
			if len(r.Issues) > 0 {
				note += ": " + strings.Join(r.Issues, "; ")
			}
			return o.block(ctx, current, outcome.ActorID, note, details)
		}
		to, action = models.StepStatusCompleted, models.AuditApprove
	}

	t := models.StepTransition{
		StepID:                       current.ID,
		From:                         []models.StepStatus{models.StepStatusPending, models.StepStatusInProgress},
		To:                           to,
		RequireCompletedPredecessors: true,
	}
	if to == models.StepStatusCompleted {
		at := o.now()
		t.CompletedAt = &at
	} else {
		t.Note = strings.TrimSpace(outcome.Reason)
	}

	step, err := o.repo.TransitionStep(ctx, t)
	if err != nil {
		return nil, o.staleOr(err, current.ID)
	}
	if step.Status == models.StepStatusCompleted {
		if err := o.requireSignatures(ctx, step); err != nil {
			return nil, err
		}
	}
	if _, err := o.audit.Record(ctx, step.DocumentID, action, outcome.ActorID, details); err != nil {
		return nil, err
	}
	o.countTransition(ctx, step)

	eventType := models.EventStepCompleted
	if step.Status == models.StepStatusRejected {
		eventType = models.EventStepRejected
	}
	o.publish(ctx, models.DocumentEvent{
		Type:       eventType,
		DocumentID: step.DocumentID,
		StepID:     step.ID,
		Status:     string(step.Status),
		ActorID:    outcome.ActorID,
		Data:       map[string]interface{}{"step": string(step.Name)},
	})

	if step.Status == models.StepStatusCompleted {
		if err := o.activateNext(ctx, step, outcome.ActorID); err != nil {
			return nil, err
		}
	}
	if err := o.syncDocumentStatus(ctx, step.DocumentID, outcome.ActorID); err != nil {
		return nil, err
	}
	return step, nil
}

// complianceBlocks reports whether the step's stored compliance report
// prevents manual approval. A supplied report only names which stored report
// to read when the step has none linked.
func (o *Orchestrator) complianceBlocks(ctx context.Context, step *models.WorkflowStep, supplied *models.ComplianceReport) (bool, string, error) {
	reportID := step.ComplianceReportID
	if reportID == "" && supplied != nil {
		reportID = supplied.ID
	}
	if reportID == "" {
		return true, "no compliance report on file", nil
	}
	report, err := o.repo.GetComplianceReport(ctx, reportID)
	if err != nil {
		return false, "", err
	}
	if report.DocumentID != step.DocumentID {
		return true, fmt.Sprintf("compliance report %s belongs to another document", report.ID), nil
	}
	if !report.IsValid {
		return true, fmt.Sprintf("compliance report %s is invalid (%s risk)", report.ID, report.RiskLevel), nil
	}
	return false, "", nil
}

// block keeps the step in progress with a note visible to reviewers.
func (o *Orchestrator) block(ctx context.Context, current *models.WorkflowStep, actorID, note string, details map[string]interface{}) (*models.WorkflowStep, error) {
	step, err := o.repo.TransitionStep(ctx, models.StepTransition{
		StepID:                       current.ID,
		From:                         []models.StepStatus{models.StepStatusPending, models.StepStatusInProgress},
		To:                           models.StepStatusInProgress,
		Note:                         note,
		RequireCompletedPredecessors: true,
	})
	if err != nil {
		return nil, o.staleOr(err, current.ID)
	}
	if current.Status == models.StepStatusPending {
		if err := o.requireSignatures(ctx, step); err != nil {
			return nil, err
		}
	}

	details["blocked"] = true
	details["note"] = note
	if _, err := o.audit.Record(ctx, step.DocumentID, models.AuditComment, actorID, details); err != nil {
		return nil, err
	}
	o.publish(ctx, models.DocumentEvent{
		Type:       models.EventStepBlocked,
		DocumentID: step.DocumentID,
		StepID:     step.ID,
		Status:     string(step.Status),
		ActorID:    actorID,
		Data:       map[string]interface{}{"step": string(step.Name), "note": note},
	})
	if current.Status == models.StepStatusPending {
		o.countTransition(ctx, step)
	}
	if err := o.syncDocumentStatus(ctx, step.DocumentID, actorID); err != nil {
		return nil, err
	}
	return step, nil
}

// activateNext starts the step after completed unless it waits for
// signatures that are not all in.
func (o *Orchestrator) activateNext(ctx context.Context, completed *models.WorkflowStep, actorID string) error {
	steps, err := o.repo.ListSteps(ctx, completed.DocumentID)
	if err != nil {
		return err
	}
	var next *models.WorkflowStep
	for i := range steps {
		if steps[i].Position > completed.Position {
			next = &steps[i]
			break
		}
	}
	if next == nil || next.Status != models.StepStatusPending {
		return nil
	}
	if next.AwaitsSignatures {
		if o.signatures == nil {
			return nil
		}
		ok, err := o.signatures.AllSigned(ctx, completed.DocumentID)
		if err != nil || !ok {
			return err
		}
	}
	_, err = o.activate(ctx, next.ID, actorID)
	return err
}

// requireSignatures refuses to open or complete a signature-gated step until
// every signer has signed. It runs after the conditional update in the same
// transaction; a refusal rolls the update back.
func (o *Orchestrator) requireSignatures(ctx context.Context, step *models.WorkflowStep) error {
	if !step.AwaitsSignatures {
		return nil
	}
	if o.signatures == nil {
		return apperr.NewSignaturesIncompleteError(step.ID, step.DocumentID)
	}
	ok, err := o.signatures.AllSigned(ctx, step.DocumentID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NewSignaturesIncompleteError(step.ID, step.DocumentID)
	}
	return nil
}

// ValidateStep runs the compliance validator for a step that requires it and
// attaches the report. An invalid report blocks manual approval; it does not
// reject the step.
func (o *Orchestrator) ValidateStep(ctx context.Context, stepID, actorID string) (report *models.ComplianceReport, err error) {
	started := time.Now()
	ctx, span := o.span(ctx, "ValidateStep", attribute.String("step.id", stepID))
	defer func() { o.finish(ctx, span, "ValidateStep", started, err) }()

	if o.validator == nil {
		return nil, apperr.NewInternalError(errors.New("no compliance validator configured"))
	}
	if actorID == "" {
		actorID = SystemActor
	}

	step, doc, err := o.startable(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if !step.RequiresValidation {
		return nil, apperr.NewValidationError("step " + string(step.Name) + " does not require validation")
	}

	// the classifier call stays outside the transaction
	report, err = o.validator.ValidateForStep(ctx, step.ID, doc.ID, doc.Jurisdiction, doc.Type)
	if err != nil {
		code := apperr.CodeOf(err)
		if code == apperr.ErrCodeClassifierResponseInvalid || code == apperr.ErrCodeExternalServiceUnavailable {
			note := "compliance validation could not be completed: " + err.Error()
			if blockErr := o.repo.WithinTx(ctx, func(ctx context.Context) error {
				_, err := o.block(ctx, step, actorID, note, map[string]interface{}{
					"stepId": step.ID,
					"step":   string(step.Name),
					"error":  string(code),
				})
				return err
			}); blockErr != nil {
				o.logger.Warn("failed to record blocked validation", map[string]interface{}{"stepId": step.ID, "error": blockErr})
			}
		}
		return nil, err
	}

	err = o.repo.WithinTx(ctx, func(ctx context.Context) error {
		note := ""
		if !report.IsValid {
			note = "compliance report is invalid"
			if len(report.Issues) > 0 {
				note += ": " + strings.Join(report.Issues, "; ")
			}
		}
		if err := o.repo.AttachComplianceReport(ctx, step.ID, report.ID, note); err != nil {
			return o.staleOr(err, step.ID)
		}

		current, err := o.repo.GetStep(ctx, step.ID)
		if err != nil {
			return err
		}
		if current.Status == models.StepStatusPending {
			if _, err := o.activate(ctx, step.ID, actorID); err != nil {
				return err
			}
		}
		if !report.IsValid {
			o.publish(ctx, models.DocumentEvent{
				Type:       models.EventStepBlocked,
				DocumentID: doc.ID,
				StepID:     step.ID,
				ActorID:    actorID,
				Data:       map[string]interface{}{"reportId": report.ID, "riskLevel": string(report.RiskLevel)},
			})
		}
		return o.syncDocumentStatus(ctx, doc.ID, actorID)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// VerifyStep starts an external verification for the step. A submission
// failure leaves the step in progress with a note.
func (o *Orchestrator) VerifyStep(ctx context.Context, stepID string, req models.VerificationRequest) (result *models.VerificationResult, err error) {
	started := time.Now()
	ctx, span := o.span(ctx, "VerifyStep",
		attribute.String("step.id", stepID),
		attribute.String("verification.type", string(req.Type)),
	)
	defer func() { o.finish(ctx, span, "VerifyStep", started, err) }()

	if o.verifier == nil {
		return nil, apperr.NewInternalError(errors.New("no verifier configured"))
	}
	actorID := req.RequestedBy
	if actorID == "" {
		actorID = SystemActor
	}

	step, doc, err := o.startable(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if step.Status == models.StepStatusPending {
		if _, err := o.Activate(ctx, step.ID, actorID); err != nil {
			return nil, err
		}
	}

	req.DocumentID = doc.ID
	req.StepID = step.ID
	result, err = o.verifier.Initiate(ctx, req)
	if err != nil {
		return nil, err
	}

	if result.Status == models.VerificationFailed {
		err = o.repo.WithinTx(ctx, func(ctx context.Context) error {
			current, err := o.repo.GetStep(ctx, step.ID)
			if err != nil {
				return err
			}
			_, err = o.block(ctx, current, actorID, result.Note, map[string]interface{}{
				"stepId":         step.ID,
				"step":           string(step.Name),
				"verificationId": result.ID,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// startable loads a non-terminal step whose predecessors are all completed.
func (o *Orchestrator) startable(ctx context.Context, stepID string) (*models.WorkflowStep, *models.Document, error) {
	step, err := o.repo.GetStep(ctx, stepID)
	if err != nil {
		return nil, nil, err
	}
	if step.Status.IsTerminal() {
		return nil, nil, apperr.NewStaleStepStateError(stepID, "step is already "+string(step.Status))
	}
	steps, err := o.repo.ListSteps(ctx, step.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range steps {
		if p.Position < step.Position && p.Status != models.StepStatusCompleted {
			return nil, nil, apperr.NewStepOutOfOrderError(step.ID, string(p.Name))
		}
	}
	doc, err := o.repo.GetDocument(ctx, step.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	return step, doc, nil
}

// OnVerificationResolved applies a verification callback to its step. It runs
// inside the transaction that stored the result. Results that no longer
// concern an open step are ignored.
func (o *Orchestrator) OnVerificationResolved(ctx context.Context, result *models.VerificationResult) error {
	if result.StepID == "" {
		return nil
	}
	step, err := o.repo.GetStep(ctx, result.StepID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			o.logger.Warn("verification resolved for unknown step", map[string]interface{}{
				"verificationId": result.ID,
				"stepId":         result.StepID,
			})
			return nil
		}
		return err
	}
	if step.Status.IsTerminal() {
		o.logger.Info("verification resolved after step closed", map[string]interface{}{
			"verificationId": result.ID,
			"stepId":         step.ID,
			"status":         step.Status,
		})
		return nil
	}

	actorID := result.RequestedBy
	if actorID == "" {
		actorID = SystemActor
	}
	return o.repo.WithinTx(ctx, func(ctx context.Context) error {
		_, err := o.advance(ctx, step.ID, Outcome{
			Kind:         OutcomeVerification,
			ActorID:      actorID,
			Verification: result,
		})
		return err
	})
}

// OnSignaturesComplete starts the first signature-gated step once its
// predecessors are done. It runs inside the signing transaction.
func (o *Orchestrator) OnSignaturesComplete(ctx context.Context, documentID, actorID string) error {
	return o.repo.WithinTx(ctx, func(ctx context.Context) error {
		steps, err := o.repo.ListSteps(ctx, documentID)
		if err != nil {
			return err
		}
		for i, s := range steps {
			if !s.AwaitsSignatures || s.Status != models.StepStatusPending {
				continue
			}
			ready := true
			for _, p := range steps[:i] {
				if p.Status != models.StepStatusCompleted {
					ready = false
					break
				}
			}
			if ready {
				if _, err := o.activate(ctx, s.ID, actorID); err != nil {
					return err
				}
			}
			break
		}
		return o.syncDocumentStatus(ctx, documentID, actorID)
	})
}

// Status returns the document with its ordered steps.
func (o *Orchestrator) Status(ctx context.Context, documentID string) (*Status, error) {
	doc, err := o.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	steps, err := o.repo.ListSteps(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &Status{Document: doc, Steps: steps, Current: currentStep(steps)}, nil
}

// staleOr maps a lost conditional update to StaleStepState.
func (o *Orchestrator) staleOr(err error, stepID string) error {
	if errors.Is(err, apperr.ErrConflict) {
		metrics.StaleTransitions.WithLabelValues("workflow_step").Inc()
		return apperr.NewStaleStepStateError(stepID, "step status changed concurrently")
	}
	return err
}

func (o *Orchestrator) countTransition(ctx context.Context, step *models.WorkflowStep) {
	name, status := string(step.Name), string(step.Status)
	database.AfterCommit(ctx, func(context.Context) {
		metrics.StepTransitions.WithLabelValues(name, status).Inc()
	})
}

func (o *Orchestrator) publish(ctx context.Context, event models.DocumentEvent) {
	if o.publisher == nil {
		return
	}
	event.OccurredAt = o.now()
	database.AfterCommit(ctx, func(ctx context.Context) {
		if err := o.publisher.Publish(ctx, event); err != nil {
			o.logger.Warn("failed to publish workflow event", map[string]interface{}{
				"type":       event.Type,
				"documentId": event.DocumentID,
				"error":      err,
			})
		}
	})
}

func (o *Orchestrator) notify(ctx context.Context, n models.Notification) {
	if o.notifier == nil {
		return
	}
	database.AfterCommit(ctx, func(ctx context.Context) {
		if err := o.notifier.Notify(ctx, n); err != nil {
			o.logger.Warn("workflow notification failed", map[string]interface{}{
				"type":       n.Type,
				"documentId": n.DocumentID,
				"error":      err,
			})
		}
	})
}

func humanize(name models.StepName) string {
	return strings.ReplaceAll(string(name), "_", " ")
}
