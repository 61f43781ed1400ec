package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedSentinelMatchesErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("group %q: %w", "acme", ErrGroupNotFound)
	if !errors.Is(wrapped, ErrGroupNotFound) {
		t.Error("errors.Is should see through %w wrapping to the sentinel")
	}
	if errors.Is(wrapped, ErrGroupExists) {
		t.Error("wrapped ErrGroupNotFound must not match an unrelated sentinel")
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	all := []error{
		ErrGroupNotFound, ErrMemberNotFound, ErrNoKeyPackage, ErrContactNotFound,
		ErrMalformedMessage, ErrUnverifiedMessage, ErrUnsupportedMessage, ErrStaleEpoch,
		ErrTransport, ErrBadBase64, ErrBadUTF8, ErrBadPrivateKey,
		ErrLoadUser, ErrSaveUser, ErrOpenDB, ErrGroupExists, ErrAmbiguousMember,
	}
	seen := make(map[string]bool, len(all))
	for _, e := range all {
		if seen[e.Error()] {
			t.Errorf("duplicate error message: %q", e.Error())
		}
		seen[e.Error()] = true
	}
}
