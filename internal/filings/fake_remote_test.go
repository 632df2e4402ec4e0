package filings

import (
	"net/http"
	"testing"

	"github.com/taxdesk/taxdesk/internal/remote"
	"github.com/taxdesk/taxdesk/internal/remote/remotetest"
)

type fakeExecer = remotetest.Execer

var writeJSON = remotetest.WriteJSON

func newFakeAPI(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*remotetest.Server, *remote.Client) {
	return remotetest.New(t, handle)
}

const taxFormsPayload = `{
  "forms": [
    {"_id": "64f1c0ffee0001", "fullName": "Budi Santoso", "email": "budi@example.com",
     "service": {"name": "vat"}, "status": "in-review", "documents": {"ktp": "a.pdf", "npwp": "b.pdf"},
     "createdAt": "2024-03-01T09:30:00Z", "taxYear": 2023},
    {"_id": "64f1c0ffee0002", "fullName": "Sari Dewi", "email": "sari@example.com",
     "service": "personal-income-tax", "status": "Pending", "documents": ["x.pdf"],
     "createdAt": "2024-03-02T10:00:00Z"}
  ],
  "pagination": {"total": 12, "page": 1, "limit": 10, "pages": 2}
}`
