package errs

import "errors"

// Доменные сентинель-ошибки; Code маппит их в коды ответа по WebSocket и HTTP.
var (
	ErrUnknownIdentity    = errors.New("unknown identity")
	ErrAlreadyConnected   = errors.New("user is already logged in")
	ErrNotLoggedIn        = errors.New("login required")
	ErrPeerUnavailable    = errors.New("peer is not available")
	ErrBusy               = errors.New("another call is in progress")
	ErrInvalidTransition  = errors.New("invalid call transition")
	ErrEmptyMessage       = errors.New("message has neither text nor attachment")
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotOwner           = errors.New("message belongs to another user")
	ErrBadRequest         = errors.New("malformed event")
	ErrHubStopped         = errors.New("coordinator stopped")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnknownIdentity, "unknown_identity"},
	{ErrAlreadyConnected, "already_connected"},
	{ErrNotLoggedIn, "not_logged_in"},
	{ErrPeerUnavailable, "peer_unavailable"},
	{ErrBusy, "busy"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrEmptyMessage, "empty_message"},
	{ErrAttachmentTooLarge, "attachment_too_large"},
	{ErrMessageNotFound, "not_found"},
	{ErrNotOwner, "not_owner"},
	{ErrBadRequest, "bad_request"},
	{ErrHubStopped, "unavailable"},
}

// Code returns the stable wire code for err, or "internal" for anything unknown.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
