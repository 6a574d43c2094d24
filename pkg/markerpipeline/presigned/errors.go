package presigned

import "errors"

var (
	// ErrMissingSignature is returned when a request lacks the expires
	// or signature query parameters.
	ErrMissingSignature = errors.New("missing signature parameters")

	// ErrInvalidSignature is returned when the signature does not match
	// the request.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrSignatureExpired is returned when the signed URL is past its
	// expiry.
	ErrSignatureExpired = errors.New("signature expired")
)

// IsAuthError reports whether err is a signature validation failure, as
// opposed to a storage or transport failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrSignatureExpired)
}
