package domain

import "errors"

// Error taxonomy. Adapters and components wrap these with fmt.Errorf("...: %w").
var (
	ErrIdentityConflict  = errors.New("identity conflict")
	ErrTransportFailure  = errors.New("transport failure")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrConflictingSource = errors.New("conflicting media source")
	ErrSignalingParse    = errors.New("signaling parse error")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidInput      = errors.New("invalid input")
)

type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindIdentityConflict    ErrorKind = "IdentityConflict"
	KindTransportFailure    ErrorKind = "TransportFailure"
	KindPermissionDenied    ErrorKind = "PermissionDenied"
	KindDeviceUnavailable   ErrorKind = "DeviceUnavailable"
	KindConflictingSource   ErrorKind = "ConflictingSource"
	KindSignalingParseError ErrorKind = "SignalingParseError"
	KindInvalidState        ErrorKind = "InvalidState"
	KindInvalidInput        ErrorKind = "InvalidInput"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrIdentityConflict, KindIdentityConflict},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrDeviceUnavailable, KindDeviceUnavailable},
	{ErrConflictingSource, KindConflictingSource},
	{ErrSignalingParse, KindSignalingParseError},
	{ErrInvalidState, KindInvalidState},
	{ErrInvalidInput, KindInvalidInput},
	{ErrTransportFailure, KindTransportFailure},
}

// KindOf maps err onto the taxonomy. Anything unrecognised is treated as a
// transport failure since that is the retryable bucket.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindTransportFailure
}
