package leads

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"leadlock_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// Fingerprint identifies the content of a new-lead signal so upstream
// redeliveries of the same submission collapse into one pass.
// phone must already be normalized.
func Fingerprint(env domain.LeadEnvelope, phone string) string {
	parts := []string{
		env.TenantID.String(),
		phone,
		strings.ToLower(strings.TrimSpace(env.Source)),
		strings.ToLower(strings.TrimSpace(env.FirstName)),
		strings.ToLower(strings.TrimSpace(env.LastName)),
		strings.ToLower(strings.TrimSpace(env.Email)),
		strings.ToLower(strings.Join(strings.Fields(env.Address), " ")),
		strings.Join(strings.Fields(env.InboundText), " "),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:16])
}

func newLeadDedupKey(env domain.LeadEnvelope, phone string) string {
	return "new:" + env.TenantID.String() + ":" + phone + ":" + Fingerprint(env, phone)
}

func replyDedupKey(tenantID uuid.UUID, providerMessageID string) string {
	return "reply:" + tenantID.String() + ":" + providerMessageID
}

// LockKey is the per-lead identity lock shared by every conductor path.
func LockKey(tenantID uuid.UUID, phone string) string {
	return "lead:" + tenantID.String() + ":" + phone
}
