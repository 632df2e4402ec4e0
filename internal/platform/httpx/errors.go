package httpx

import (
	"errors"
	"net/http"

	"github.com/taxdesk/taxdesk/internal/remote"
)

// StatusOf maps a remote or domain error to the HTTP status shown to the
// portal user.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, remote.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, remote.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, remote.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, remote.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, remote.ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as an RFC7807 problem. Upstream messages are only
// echoed for client-side errors.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	detail := ""
	var se *remote.StatusError
	if status < http.StatusInternalServerError && errors.As(err, &se) {
		detail = se.Message
	}
	Problem(w, status, http.StatusText(status), detail)
}
