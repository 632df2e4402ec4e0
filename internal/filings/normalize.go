package filings

import (
	"strings"

	"github.com/taxdesk/taxdesk/internal/remote"
)

// knownFields are rendered explicitly and excluded from Attributes.
var knownFields = []string{
	"id", "_id", "__v", "reference", "referenceNumber", "fullName", "name", "email", "phone",
	"phoneNumber", "companyName", "company", "service", "subService", "status", "notes",
	"message", "createdAt", "updatedAt", "documents", "files", "password",
}

// fromRecord maps the loosely shaped API object onto Submission. Status and
// service may arrive as strings or {name} objects; documents as a list or
// a keyed map.
func fromRecord(r remote.Record) Submission {
	s := Submission{
		ID:        r.String("id", "_id"),
		Reference: r.String("referenceNumber", "reference"),
		Applicant: r.String("fullName", "name", "applicantName"),
		Email:     r.String("email"),
		Phone:     r.String("phone", "phoneNumber"),
		Company:   r.String("companyName", "company"),
		Service:   r.String("subService", "service"),
		Status:    normalizeStatus(r.String("status")),
		Notes:     r.String("notes", "message"),
		Documents: r.Len("documents", "files"),
		CreatedAt: r.Time("createdAt", "created_at"),
		UpdatedAt: r.Time("updatedAt", "updated_at"),
	}
	if s.Reference == "" && len(s.ID) >= 6 {
		s.Reference = strings.ToUpper(s.ID[len(s.ID)-6:])
	}
	if attrs := r.Fields(knownFields...); len(attrs) > 0 {
		s.Attributes = attrs
	}
	return s
}

// normalizeStatus maps API spellings ("in-review", "pending") onto the
// canonical labels; unknown values pass through.
func normalizeStatus(raw string) string {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(raw))
	for _, status := range Statuses {
		if strings.ReplaceAll(strings.ToLower(status), " ", "") == key {
			return status
		}
	}
	if raw == "" {
		return StatusPending
	}
	return raw
}
