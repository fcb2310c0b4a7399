// internal/workers/document/send-notification/templates.go
package sendnotification

import (
	"fmt"
	"strings"

	"rental-docflow/internal/models"
)

type template struct {
	title string
	body  string
}

var templates = map[models.NotificationType]template{
	models.NotificationStepActivated: {
		title: "Action needed: {{stepName}}",
		body:  "The {{stepName}} step of {{documentName}} is waiting for you.",
	},
	models.NotificationDocumentApproved: {
		title: "Document approved",
		body:  "{{documentName}} has completed every approval step.",
	},
	models.NotificationDocumentRejected: {
		title: "Document rejected",
		body:  "{{documentName}} was rejected: {{reason}}",
	},
	models.NotificationSignatureRequest: {
		title: "Signature requested",
		body:  "Please review and sign {{documentName}} before {{expiresAt}}.",
	},
	models.NotificationSignatureDeclined: {
		title: "Signature declined",
		body:  "{{signerName}} declined to sign {{documentName}}: {{reason}}",
	},
	models.NotificationVerificationDone: {
		title: "Verification finished",
		body:  "The {{verificationType}} verification for {{documentName}} finished with status {{status}}.",
	},
	models.NotificationExpiringSoon: {
		title: "Document expiring soon",
		body:  "{{documentName}} expires in {{daysRemaining}} days.",
	},
	models.NotificationExpired: {
		title: "Document expired",
		body:  "{{documentName}} expired on {{expirationDate}} and needs renewal.",
	},
	models.NotificationRenewed: {
		title: "Document renewed",
		body:  "{{documentName}} is now valid until {{expirationDate}}.",
	},
}

// renderTemplate substitutes {{key}} placeholders and drops the ones without a value.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return strings.TrimSpace(result)
}
