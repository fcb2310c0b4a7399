package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperr "rental-docflow/internal/common/errors"
	apphttp "rental-docflow/internal/common/http"
	"rental-docflow/internal/models"
)

const (
	backgroundCheckPath = "/background-check"
	verifyDocumentPath  = "/verify-document"
)

// Verifier submits a verification to the external provider and returns the
// provider's reference for it. The outcome arrives later through a callback.
type Verifier interface {
	Submit(ctx context.Context, requestID string, req models.VerificationRequest) (string, error)
}

type submitRequest struct {
	RequestID  string                     `json:"requestId"`
	DocumentID string                     `json:"documentId"`
	Type       models.VerificationType    `json:"type"`
	Subject    models.VerificationSubject `json:"subject"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HTTPVerifier talks to the provider's REST API.
type HTTPVerifier struct {
	client  *apphttp.Client
	baseURL string
}

func NewHTTPVerifier(baseURL, apiKey string, timeout time.Duration, maxRetries int) *HTTPVerifier {
	return &HTTPVerifier{
		client: apphttp.NewClient(timeout,
			apphttp.WithRetries(maxRetries, 200*time.Millisecond),
			apphttp.WithHeader("Authorization", "Bearer "+apiKey),
		),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// endpointFor routes income checks to document verification and the rest to
// the background check API.
func endpointFor(t models.VerificationType) string {
	if t == models.VerificationIncome {
		return verifyDocumentPath
	}
	return backgroundCheckPath
}

func (v *HTTPVerifier) Submit(ctx context.Context, requestID string, req models.VerificationRequest) (string, error) {
	body := submitRequest{
		RequestID:  requestID,
		DocumentID: req.DocumentID,
		Type:       req.Type,
		Subject:    req.Subject,
	}

	var resp submitResponse
	if err := v.client.PostJSON(ctx, v.baseURL+endpointFor(req.Type), body, &resp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.NewExternalServiceUnavailableError("verifier", fmt.Errorf("timed out: %w", err))
		}
		return "", apperr.NewExternalServiceUnavailableError("verifier", err)
	}
	if resp.ID == "" {
		return "", apperr.NewExternalServiceUnavailableError("verifier", errors.New("response carried no verification id"))
	}
	return resp.ID, nil
}
