package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const signaturePrefix = "sha256="

var (
	errMissingSignature = errors.New("signature header is missing")
	errBadSignature     = errors.New("signature mismatch")
)

// verifySignature checks a GitHub style X-Hub-Signature-256 header against
// the HMAC-SHA256 of body.
func verifySignature(secret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return errMissingSignature
	}
	hexSum, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return errBadSignature
	}
	actual, err := hex.DecodeString(hexSum)
	if err != nil {
		return errBadSignature
	}

	digest := hmac.New(sha256.New, []byte(secret))
	_, _ = digest.Write(body)
	if !hmac.Equal(digest.Sum(nil), actual) {
		return errBadSignature
	}
	return nil
}

func sign(secret string, body []byte) string {
	digest := hmac.New(sha256.New, []byte(secret))
	_, _ = digest.Write(body)
	return signaturePrefix + hex.EncodeToString(digest.Sum(nil))
}
