package triggers

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"

	"github.com/littlebearapps/untether/config"
)

// Signature headers by algorithm. GitHub sends x-hub-signature-256 for
// SHA-256 and the legacy x-hub-signature for SHA-1; x-signature is the
// generic fallback.
var signatureHeaders = map[string][]string{
	config.AuthHMACSHA256: {"X-Hub-Signature-256", "X-Signature"},
	config.AuthHMACSHA1:   {"X-Hub-Signature", "X-Signature"},
}

// VerifyAuth checks a webhook request against its configured auth mode.
func VerifyAuth(cfg config.WebhookConfig, headers http.Header, body []byte) bool {
	mode := cfg.AuthMode()
	if mode == config.AuthNone {
		return true
	}
	if cfg.Secret == "" {
		return false
	}

	switch mode {
	case config.AuthBearer:
		return verifyBearer(cfg.Secret, headers)
	case config.AuthHMACSHA256:
		return verifyHMAC(cfg.Secret, body, headers, sha256.New, signatureHeaders[mode])
	case config.AuthHMACSHA1:
		return verifyHMAC(cfg.Secret, body, headers, sha1.New, signatureHeaders[mode])
	default:
		return false
	}
}

// verifyBearer checks the Authorization header. The scheme keyword is
// case-insensitive per RFC 6750.
func verifyBearer(secret string, headers http.Header) bool {
	auth := headers.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return false
	}
	return hmac.Equal([]byte(auth[7:]), []byte(secret))
}

func verifyHMAC(secret string, body []byte, headers http.Header, algo func() hash.Hash, headerNames []string) bool {
	mac := hmac.New(algo, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, name := range headerNames {
		sig := headers.Get(name)
		if sig == "" {
			continue
		}
		// Strip the algorithm prefix ("sha256=", "sha1=").
		if i := strings.IndexByte(sig, '='); i >= 0 {
			sig = sig[i+1:]
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}
