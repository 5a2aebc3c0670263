// Package token encodes a participant's identity into the opaque string
// embedded in their join link. The encoding is reversible on purpose: the
// token is the participant's only credential, matched against the quiz's
// registration list on join.
package token

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/musudik/iquiz/internal/domain"
)

// Encode builds the link token for an identity pair: base64 of the
// percent-encoded "email:name". Percent-encoding first keeps non-ASCII names
// intact through the base64 layer.
func Encode(email, name string) string {
	return base64.StdEncoding.EncodeToString([]byte(url.QueryEscape(email + ":" + name)))
}

// Decode reverses Encode. The payload splits on the first ':' so emails with
// no colon pair up with names that may contain one. Malformed input maps to
// domain.ErrInvalidLink, never a panic.
func Decode(tok string) (email, name string, err error) {
	raw, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrInvalidLink, err)
	}

	payload, err := url.QueryUnescape(string(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrInvalidLink, err)
	}

	email, name, ok := strings.Cut(payload, ":")
	if !ok {
		return "", "", fmt.Errorf("%w: missing separator", domain.ErrInvalidLink)
	}

	return email, name, nil
}
