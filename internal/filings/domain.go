// Package filings renders the admin views over tax, advisory and
// company-registration form submissions held by the remote API.
package filings

import (
	"errors"
	"strings"
	"time"

	"github.com/taxdesk/taxdesk/internal/listing"
)

// Kind identifies one of the three submission families.
type Kind string

const (
	KindTax      Kind = "tax"
	KindAdvisory Kind = "advisory"
	KindCompany  Kind = "company"
)

// Submission statuses accepted by the remote API.
const (
	StatusPending   = "Pending"
	StatusInReview  = "In Review"
	StatusCompleted = "Completed"
	StatusRejected  = "Rejected"
)

// Statuses lists the statuses in workflow order.
var Statuses = []string{StatusPending, StatusInReview, StatusCompleted, StatusRejected}

// ErrUnknownKind is returned for a kind outside tax/advisory/company.
var ErrUnknownKind = errors.New("filings: unknown form kind")

// Option is a value offered by a filter select.
type Option struct {
	Value string
	Label string
}

// KindInfo describes how a kind maps onto the remote API and the list UI.
type KindInfo struct {
	Kind             Kind
	Title            string
	RemotePath       string
	Keys             listing.Keys
	SecondaryLabel   string
	SecondaryOptions []Option
}

var kinds = map[Kind]KindInfo{
	KindTax: {
		Kind:           KindTax,
		Title:          "Tax forms",
		RemotePath:     "/tax-forms",
		Keys:           listing.Keys{Secondary: "service"},
		SecondaryLabel: "Service",
		SecondaryOptions: []Option{
			{Value: "personal-income-tax", Label: "Personal income tax"},
			{Value: "corporate-income-tax", Label: "Corporate income tax"},
			{Value: "vat", Label: "VAT"},
			{Value: "tax-registration", Label: "Tax registration"},
		},
	},
	KindAdvisory: {
		Kind:           KindAdvisory,
		Title:          "Advisory requests",
		RemotePath:     "/advisory-forms",
		Keys:           listing.Keys{Secondary: "service"},
		SecondaryLabel: "Service",
		SecondaryOptions: []Option{
			{Value: "tax-planning", Label: "Tax planning"},
			{Value: "audit-support", Label: "Audit support"},
			{Value: "bookkeeping", Label: "Bookkeeping"},
		},
	},
	KindCompany: {
		Kind:           KindCompany,
		Title:          "Company registrations",
		RemotePath:     "/company-forms",
		Keys:           listing.Keys{Secondary: "subService"},
		SecondaryLabel: "Entity type",
		SecondaryOptions: []Option{
			{Value: "pt", Label: "PT"},
			{Value: "pt-pma", Label: "PT PMA"},
			{Value: "cv", Label: "CV"},
			{Value: "foundation", Label: "Foundation"},
		},
	},
}

// Kinds returns every kind in menu order.
func Kinds() []KindInfo {
	return []KindInfo{kinds[KindTax], kinds[KindAdvisory], kinds[KindCompany]}
}

// ParseKind resolves the {kind} URL segment.
func ParseKind(raw string) (KindInfo, error) {
	info, ok := kinds[Kind(strings.ToLower(strings.TrimSpace(raw)))]
	if !ok {
		return KindInfo{}, ErrUnknownKind
	}
	return info, nil
}

// Submission is the normalized list item and detail record.
type Submission struct {
	ID         string            `json:"id"`
	Reference  string            `json:"reference"`
	Applicant  string            `json:"applicant"`
	Email      string            `json:"email"`
	Phone      string            `json:"phone"`
	Company    string            `json:"company"`
	Service    string            `json:"service"`
	Status     string            `json:"status"`
	Notes      string            `json:"notes"`
	Documents  int               `json:"documents"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// StatusUpdate is the admin status change form.
type StatusUpdate struct {
	Status string `validate:"required,oneof=Pending 'In Review' Completed Rejected"`
	Note   string `validate:"max=1000"`
}
