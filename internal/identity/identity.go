// Package identity parses caller identities and derives filesystem-safe names from them.
package identity

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"crowd-radio/internal/apperr"
)

// tokenLength is the length of a hyphenated UUID string.
const tokenLength = 36

// allowedAccented lists the non-ASCII letters that may appear in filenames.
const allowedAccented = "ÀàÂâÆæÇçÉéÈèÊêËëÎîÏïÔôŒœÙùÛûÜüŸÿØøÅå"

var bearerPattern = regexp.MustCompile(`^Bearer ([A-Za-z0-9+/=]+)$`)

// Identity is a user: a free-form display name plus a stable opaque token.
type Identity struct {
	Name  string
	Token string
}

// String returns the identity in name(token) form for logging.
func (id Identity) String() string {
	return id.Name + "(" + id.Token + ")"
}

// SanitisedName returns Name with every rune outside the allow-list replaced by '_'.
func (id Identity) SanitisedName() string {
	return Sanitise(id.Name)
}

// Sanitise replaces every rune that is not an ASCII letter, digit or one of
// the allowed accented letters with '_'.
func Sanitise(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if isAllowed(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isAllowed(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	}
	return strings.ContainsRune(allowedAccented, r)
}

// ValidToken reports whether token is a hyphenated UUID.
func ValidToken(token string) bool {
	if len(token) != tokenLength {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}

// FromBearer parses an Authorization header of the form
// "Bearer base64(displayName + uuid)".
func FromBearer(header string) (Identity, error) {
	const op = "identity.FromBearer"

	if header == "" {
		return Identity{}, apperr.E(apperr.KindInvalidRequest, op, "no Authorization header")
	}
	m := bearerPattern.FindStringSubmatch(header)
	if m == nil {
		return Identity{}, apperr.E(apperr.KindInvalidRequest, op, "malformed Authorization header")
	}
	decoded, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.KindInvalidRequest, op, err, "bearer token is not base64 encoded")
	}
	return Parse(string(decoded))
}

// Parse splits a decoded "displayName + uuid" string into an Identity.
func Parse(decoded string) (Identity, error) {
	const op = "identity.Parse"

	if len(decoded) <= tokenLength {
		return Identity{}, apperr.E(apperr.KindInvalidRequest, op, "invalid user id %q", decoded)
	}
	split := len(decoded) - tokenLength
	name, token := decoded[:split], decoded[split:]
	if !ValidToken(token) {
		return Identity{}, apperr.E(apperr.KindInvalidRequest, op, "invalid user id %q", decoded)
	}
	return Identity{Name: name, Token: token}, nil
}
