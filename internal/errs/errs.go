// Package errs defines the typed error taxonomy mlsclient surfaces across
// package boundaries. Callers match on these with errors.Is; call sites
// wrap them with fmt.Errorf("...: %w", ...) for context.
package errs

import "errors"

// NotFound errors: the requested resource does not exist.
var (
	ErrGroupNotFound   = errors.New("unknown group")
	ErrMemberNotFound  = errors.New("no member with that identity known")
	ErrNoKeyPackage    = errors.New("no more keypackage available")
	ErrContactNotFound = errors.New("no contact with that user id known")
)

// Protocol errors: a received MLS artifact could not be processed.
var (
	ErrMalformedMessage   = errors.New("could not deserialize message")
	ErrUnverifiedMessage  = errors.New("error processing unverified message")
	ErrUnsupportedMessage = errors.New("unsupported message type")
	ErrStaleEpoch         = errors.New("message epoch does not match current group epoch")
)

// Transport errors: the Delivery Service round trip failed.
var (
	ErrTransport = errors.New("delivery service transport error")
)

// Encoding errors: a wire value failed to decode.
var (
	ErrBadBase64     = errors.New("failed to decode base64 string")
	ErrBadUTF8       = errors.New("invalid utf-8 sequence")
	ErrBadPrivateKey = errors.New("failed to decode private key")
)

// Storage errors: the local persistence layer failed.
var (
	ErrLoadUser = errors.New("error load user")
	ErrSaveUser = errors.New("error saving user state")
	ErrOpenDB   = errors.New("error building database")
)

// Precondition errors: the caller asked for a state transition that
// conflicts with what already exists.
var (
	ErrGroupExists     = errors.New("group existed already")
	ErrAmbiguousMember = errors.New("credential identity matches more than one member")
)
