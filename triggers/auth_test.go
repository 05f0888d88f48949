package triggers

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net/http"
	"testing"

	"github.com/littlebearapps/untether/config"
)

func sign(t *testing.T, algo func() hash.Hash, secret string, body []byte) string {
	t.Helper()
	mac := hmac.New(algo, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAuthNone(t *testing.T) {
	cfg := config.WebhookConfig{Auth: config.AuthNone}
	if !VerifyAuth(cfg, http.Header{}, []byte("body")) {
		t.Fatal("auth none should always pass")
	}
}

func TestVerifyBearer(t *testing.T) {
	cfg := config.WebhookConfig{Auth: config.AuthBearer, Secret: "s3cret"}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer s3cret")
	if !VerifyAuth(cfg, headers, nil) {
		t.Fatal("valid bearer token rejected")
	}

	headers.Set("Authorization", "bearer s3cret")
	if !VerifyAuth(cfg, headers, nil) {
		t.Fatal("scheme keyword should be case-insensitive")
	}

	headers.Set("Authorization", "Bearer wrong")
	if VerifyAuth(cfg, headers, nil) {
		t.Fatal("wrong token accepted")
	}
	if VerifyAuth(cfg, http.Header{}, nil) {
		t.Fatal("missing header accepted")
	}
}

func TestVerifyHMACSHA256(t *testing.T) {
	cfg := config.WebhookConfig{Auth: config.AuthHMACSHA256, Secret: "s3cret"}
	body := []byte(`{"action":"opened"}`)
	sig := sign(t, sha256.New, "s3cret", body)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", "sha256="+sig)
	if !VerifyAuth(cfg, headers, body) {
		t.Fatal("valid github-style signature rejected")
	}

	headers = http.Header{}
	headers.Set("X-Signature", sig)
	if !VerifyAuth(cfg, headers, body) {
		t.Fatal("bare signature header rejected")
	}

	headers.Set("X-Signature", sign(t, sha256.New, "other", body))
	if VerifyAuth(cfg, headers, body) {
		t.Fatal("signature with wrong secret accepted")
	}

	if VerifyAuth(cfg, http.Header{}, body) {
		t.Fatal("missing signature accepted")
	}
}

func TestVerifyHMACSHA1(t *testing.T) {
	cfg := config.WebhookConfig{Auth: config.AuthHMACSHA1, Secret: "s3cret"}
	body := []byte("payload")

	headers := http.Header{}
	headers.Set("X-Hub-Signature", "sha1="+sign(t, sha1.New, "s3cret", body))
	if !VerifyAuth(cfg, headers, body) {
		t.Fatal("valid sha1 signature rejected")
	}
}

func TestVerifyAuthTamperedBody(t *testing.T) {
	cfg := config.WebhookConfig{Auth: config.AuthHMACSHA256, Secret: "s3cret"}
	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", "sha256="+sign(t, sha256.New, "s3cret", []byte("original")))
	if VerifyAuth(cfg, headers, []byte("tampered")) {
		t.Fatal("tampered body accepted")
	}
}

func TestVerifyAuthMissingSecret(t *testing.T) {
	cfg := config.WebhookConfig{Auth: config.AuthBearer}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer anything")
	if VerifyAuth(cfg, headers, nil) {
		t.Fatal("auth without a configured secret accepted")
	}
}
