// internal/workers/document/check-expiration/models.go
package checkexpiration

// Input without a documentId sweeps every document nearing expiration; the
// timer-started process uses that form.
type Input struct {
	DocumentID string `json:"documentId,omitempty"`
	ActorID    string `json:"actorId,omitempty"`
}

type Output struct {
	DocumentID     string `json:"documentId,omitempty"`
	ValidityStatus string `json:"validityStatus,omitempty"` // "no_expiration", "valid", "expiring_soon", "expired"
	DaysRemaining  *int   `json:"daysRemaining,omitempty"`
	ExpirationDate string `json:"expirationDate,omitempty"`
	RenewalOpens   string `json:"renewalOpens,omitempty"`

	SignaturesExpired int `json:"signaturesExpired,omitempty"`

	Checked      int `json:"checked,omitempty"`
	Expired      int `json:"expired,omitempty"`
	ExpiringSoon int `json:"expiringSoon,omitempty"`
	Failed       int `json:"failed,omitempty"`
}
