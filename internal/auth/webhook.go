package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// DefaultWebhookMaxAge: максимальный возраст подписи вебхука провайдера.
	DefaultWebhookMaxAge = 5 * time.Minute

	WebhookTimestampHeader = "X-Webhook-Timestamp"
	WebhookSignatureHeader = "X-Webhook-Signature"
)

var ErrBadSignature = errors.New("invalid webhook signature")

// SignWebhook returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func SignWebhook(secret string, timestamp int64, body []byte) string {
	return hex.EncodeToString(hmacSHA256([]byte(secret), signedPayload(timestamp, body)))
}

// VerifyWebhook checks a payment provider callback. timestamp is unix
// seconds; maxAge <= 0 means DefaultWebhookMaxAge.
func VerifyWebhook(secret, timestamp, signature string, body []byte, now time.Time, maxAge time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: webhook secret is not configured", ErrBadSignature)
	}
	if maxAge <= 0 {
		maxAge = DefaultWebhookMaxAge
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp is not a valid unix time", ErrBadSignature)
	}
	sentAt := time.Unix(ts, 0)
	if now.Sub(sentAt) > maxAge {
		return fmt.Errorf("%w: signature is %s old (max %s)", ErrBadSignature, now.Sub(sentAt).Round(time.Second), maxAge)
	}
	// Допускаем расхождение часов до 1 минуты
	if sentAt.After(now.Add(time.Minute)) {
		return fmt.Errorf("%w: timestamp is in the future", ErrBadSignature)
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrBadSignature)
	}
	want := hmacSHA256([]byte(secret), signedPayload(ts, body))
	if !hmac.Equal(got, want) {
		return ErrBadSignature
	}
	return nil
}

func signedPayload(timestamp int64, body []byte) []byte {
	p := strconv.AppendInt(nil, timestamp, 10)
	p = append(p, '.')
	return append(p, body...)
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
