package bunker

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPublicKey means the engine has no local identity to sign with. It is always fatal.
	ErrNoPublicKey = errors.New("no public key configured")

	// ErrRelayNeeded is returned when a reply must be sent but no relay is known to send it to.
	ErrRelayNeeded = errors.New("a relay is needed to reply")

	ErrWrongKind     = errors.New("unexpected event kind")
	ErrBadSignature  = errors.New("invalid event signature")
	ErrDecrypt       = errors.New("failed to decrypt command")
	ErrNotJSONObject = errors.New("command is not a json object")
	ErrMissingID     = errors.New("command id missing or not a string")
)

// pairing token and nostrconnect:// errors
var (
	ErrBadScheme        = errors.New("nostrconnect uri must start with nostrconnect://")
	ErrBadPeerKey       = errors.New("invalid peer public key")
	ErrMissingSeparator = errors.New("missing '?' after peer public key")
	ErrUnknownField     = errors.New("unrecognized field in nostrconnect uri")
	ErrBadRelay         = errors.New("invalid relay url")
	ErrBadMetadata      = errors.New("invalid metadata json")
)

// SessionStore errors, returned by CompletePairing.
var (
	ErrNoPendingPairing = errors.New("no pending pairing")
	ErrSecretMismatch   = errors.New("pairing secret does not match")
	ErrAlreadyPaired    = errors.New("peer is already paired")
)

// ParseError is a malformed command whose id was recovered, so the peer can be told about it.
type ParseError struct {
	ID     string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed command %q: %s", e.ID, e.Reason)
}
