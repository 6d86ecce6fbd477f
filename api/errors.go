package api

import (
	"errors"
	"net/http"

	"github.com/mercury-pubsub/mercury"
	"github.com/mercury-pubsub/mercury/internal/logging"
	"github.com/mercury-pubsub/mercury/sessions"
	"github.com/mercury-pubsub/mercury/store"
)

// HTTPError is an error with the status code and message sent to the client.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func httpError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

var (
	errUnauthorized      = httpError(http.StatusUnauthorized, "Unauthorized")
	errInvalidCreds      = httpError(http.StatusNotFound, "Invalid credentials")
	errMissingKey        = httpError(http.StatusUnauthorized, "Missing API key")
	errWrongKeyType      = httpError(http.StatusUnauthorized, "Wrong API key type")
	errUnauthorizedChan  = httpError(http.StatusUnauthorized, "Unauthorized channel")
	errChannelNotFound   = httpError(http.StatusNotFound, "Channel not found")
	errKeyNotFound       = httpError(http.StatusNotFound, "Key not found")
	errUserNotFound      = httpError(http.StatusNotFound, "User not found")
	errSessionNotFound   = httpError(http.StatusNotFound, "Session not found")
	errMissingRefresh    = httpError(http.StatusUnauthorized, "Missing refresh token")
	errDuplicateUser     = httpError(http.StatusBadRequest, "Duplicate user name")
	errDuplicateChannel  = httpError(http.StatusBadRequest, "Duplicate channel name")
	errDeleteRoot        = httpError(http.StatusBadRequest, "Cannot delete the root user")
	errDeleteHigherRank  = httpError(http.StatusUnauthorized, "Cannot delete a higher ranked user")
	errInvalidData       = httpError(http.StatusUnprocessableEntity, "Invalid data")
	errInvalidJSON       = httpError(http.StatusBadRequest, "Invalid JSON body")
	errInvalidID         = httpError(http.StatusBadRequest, "Invalid ID")
	errServerUnavailable = httpError(http.StatusServiceUnavailable, "Server is shutting down")
)

// statusFor maps domain errors that handlers pass through unchanged.
func statusFor(err error) *HTTPError {
	var he *HTTPError
	var ve *validationError
	switch {
	case errors.As(err, &he):
		return he
	case errors.As(err, &ve):
		return httpError(http.StatusUnprocessableEntity, ve.Error())
	case errors.Is(err, store.ErrMissingSemicolon):
		return httpError(http.StatusUnauthorized, "Missing semi-colon in API key")
	case errors.Is(err, store.ErrInvalidKeyID):
		return httpError(http.StatusUnauthorized, "Invalid API key ID")
	case errors.Is(err, store.ErrInvalidSecret):
		return httpError(http.StatusUnauthorized, "Invalid secret key")
	case errors.Is(err, store.ErrInvalidSchema):
		return httpError(http.StatusUnprocessableEntity, "Invalid schema")
	case errors.Is(err, store.ErrInvalidData):
		return errInvalidData
	case errors.Is(err, store.ErrInvalidKeyType):
		return httpError(http.StatusUnprocessableEntity, "Invalid key type")
	case errors.Is(err, store.ErrPasswordTooLong):
		return httpError(http.StatusUnprocessableEntity, "Password must be at most 72 bytes")
	case errors.Is(err, store.ErrUnknownChannel):
		return httpError(http.StatusBadRequest, "Unknown channel")
	case errors.Is(err, store.ErrRootUser):
		return errDeleteRoot
	case errors.Is(err, store.ErrDuplicateName):
		return httpError(http.StatusBadRequest, "Duplicate name")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sessions.ErrNotFound):
		return httpError(http.StatusNotFound, "Not found")
	case errors.Is(err, mercury.ErrServerClosed):
		return errServerUnavailable
	}
	return nil
}

// writeError answers with the status and message err maps to. Unmapped
// errors are logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	he := statusFor(err)
	if he == nil {
		logging.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		he = httpError(http.StatusInternalServerError, "Internal server error")
	}
	http.Error(w, he.Message, he.Status)
}

// handlerFunc is an http.HandlerFunc that reports failure by returning an
// error.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (f handlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := f(w, r); err != nil {
		writeError(w, r, err)
	}
}
