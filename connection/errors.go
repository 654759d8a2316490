package connection

import "errors"

// Error kinds emitted to callers. Callers should compare
// against these with errors.Is; transport, TLS, and parse errors are
// wrapped around them where relevant, or surfaced unwrapped when no
// sentinel applies.
var (
	ErrNotFound                 = errors.New("connection: not found")
	ErrTimedOut                 = errors.New("connection: timed out")
	ErrOperationAborted         = errors.New("connection: operation aborted")
	ErrNotConnected             = errors.New("connection: not connected")
	ErrTooManyRedirects         = errors.New("connection: too many redirects")
	ErrForbiddenRedirect        = errors.New("connection: forbidden redirect")
	ErrInvalidArgument          = errors.New("connection: invalid argument")
	ErrCannotRedirectUnbuffered = errors.New("connection: cannot redirect unbuffered body")
	ErrAlreadyOpen              = errors.New("connection: already open")
)
