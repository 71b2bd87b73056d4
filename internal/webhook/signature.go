package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	// SignatureHeader is the request header carrying the signature claim.
	SignatureHeader = "X-Hub-Signature"

	// signaturePrefix tags the algorithm in the header value.
	signaturePrefix = "sha1="

	// noSignature is the sentinel claimed digest for a missing or
	// malformed header. It is not valid hex, so it can never equal a
	// computed digest.
	noSignature = "no signature"

	// rejectedBody is the fixed response body for every rejection.
	rejectedBody = "Not Authorized"
)

// Decision is the verifier's explicit outcome. The dispatching handler
// inspects it to decide whether the request proceeds; rejection carries
// the full response so no further stage needs to run.
type Decision struct {
	Authorized bool
	Status     int
	Body       string
}

var (
	decisionAuthorized = Decision{Authorized: true}
	decisionRejected   = Decision{Status: http.StatusUnauthorized, Body: rejectedBody}
)

// claimedDigest extracts the hex digest claim from the signature header
// value. Anything that does not match "sha1=<rest>" normalizes to the
// noSignature sentinel, which deterministically fails comparison, so a
// missing header is indistinguishable from a wrong signature.
func claimedDigest(headerValue string) string {
	if rest, ok := strings.CutPrefix(headerValue, signaturePrefix); ok {
		return rest
	}
	return noSignature
}

// expectedDigest computes the lowercase hex HMAC-SHA1 of body keyed by
// secret.
func expectedDigest(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify decides whether the request genuinely originated from a holder
// of the shared secret. The comparison is constant-time so response
// timing does not leak the position of the first mismatching byte.
//
// An empty secret always rejects. Startup validation prevents that state
// from being reachable in a running process.
func Verify(raw []byte, signatureHeader, secret string) Decision {
	if secret == "" {
		return decisionRejected
	}

	expected := expectedDigest(secret, raw)
	claimed := claimedDigest(signatureHeader)

	if subtle.ConstantTimeCompare([]byte(expected), []byte(claimed)) == 1 {
		return decisionAuthorized
	}
	return decisionRejected
}
