package gateway

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

// ComputePayUSignature returns hex(MD5(body + secondKey))
func ComputePayUSignature(body []byte, secondKey string) string {
	h := md5.New()
	h.Write(body)
	h.Write([]byte(secondKey))
	return hex.EncodeToString(h.Sum(nil))
}

// ExtractPayUSignature accepts either a bare digest or the
// "sender=..;signature=<hex>;algorithm=MD5" header form.
func ExtractPayUSignature(header string) string {
	header = strings.TrimSpace(header)
	if !strings.Contains(header, "=") {
		return header
	}
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(key, "signature") {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// VerifyPayUSignature compares the expected digest case-insensitively
func VerifyPayUSignature(body []byte, header, secondKey string) error {
	provided := strings.ToLower(ExtractPayUSignature(header))
	if provided == "" || secondKey == "" {
		return domain.ErrSignatureInvalid
	}
	expected := ComputePayUSignature(body, secondKey)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return domain.ErrSignatureInvalid
	}
	return nil
}
