package signature

import (
	"net"
	"strings"
	"time"

	"github.com/mssola/useragent"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
)

// normalizeIP accepts a bare address or host:port as seen in X-Forwarded-For
// and RemoteAddr.
func normalizeIP(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.NewValidationError("signature evidence needs an IP address")
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return "", apperr.NewValidationError("invalid IP address " + raw)
	}
	return ip.String(), nil
}

func buildEvidence(ev Evidence, ip string, signedAt time.Time) *models.SignatureEvidence {
	ua := useragent.New(ev.UserAgent)
	name, version := ua.Browser()
	browser := strings.TrimSpace(name + " " + version)

	return &models.SignatureEvidence{
		SignedAt:       signedAt,
		IPAddress:      ip,
		UserAgent:      ev.UserAgent,
		Browser:        browser,
		OS:             ua.OS(),
		Mobile:         ua.Mobile(),
		SignatureImage: ev.SignatureImage,
		TypedName:      strings.TrimSpace(ev.TypedName),
	}
}
