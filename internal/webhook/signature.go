package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const secretPrefix = "whsec_"

// Verifier checks provider webhook signatures. The signed content is
// id + "." + timestamp + "." + rawPayload; the header carries space-separated
// "v1,<base64 hmac>" entries. Verification fails closed: any missing input
// rejects the webhook.
type Verifier struct {
	secret []byte
}

// NewVerifier prepares a verifier from a provider signing secret. Secrets of
// the form whsec_<base64> are decoded to raw bytes; anything else is used as a
// literal key.
func NewVerifier(secret string) Verifier {
	if rest, ok := strings.CutPrefix(secret, secretPrefix); ok {
		if raw, err := base64.StdEncoding.DecodeString(rest); err == nil {
			return Verifier{secret: raw}
		}
	}
	return Verifier{secret: []byte(secret)}
}

// Verify reports whether any v1 signature entry matches the expected HMAC for
// the given webhook id, timestamp and raw payload.
func (v Verifier) Verify(id, timestamp string, payload []byte, signatureHeader string) bool {
	if id == "" || timestamp == "" || signatureHeader == "" || len(v.secret) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, entry := range strings.Fields(signatureHeader) {
		version, sig, found := strings.Cut(entry, ",")
		if !found || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

// Sign computes the v1 signature entry for the given inputs. Exposed for tests
// and for replaying events against sandbox environments.
func (v Verifier) Sign(id, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
