package polar

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/thumbsmith/gocredits/pkg/billing"
)

// Polar signs webhooks with the Standard Webhooks scheme: an HMAC-SHA256
// over "{webhook-id}.{webhook-timestamp}.{body}" keyed by the shared
// secret, base64-encoded and carried as "v1,<signature>" in the
// webhook-signature header (possibly several space-separated candidates
// during secret rotation).
const (
	headerWebhookID        = "webhook-id"
	headerWebhookTimestamp = "webhook-timestamp"
	headerWebhookSignature = "webhook-signature"

	secretPrefix = "whsec_"

	// defaultTolerance bounds the webhook-timestamp skew. Deliveries
	// outside the window are rejected to blunt replay of captured calls.
	defaultTolerance = 5 * time.Minute
)

type verifier struct {
	secret    []byte
	tolerance time.Duration
}

// newVerifier parses a Standard-Webhooks secret ("whsec_..." or the raw
// base64 portion).
func newVerifier(secret string) (*verifier, error) {
	encoded := strings.TrimPrefix(strings.TrimSpace(secret), secretPrefix)
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: webhook secret is not valid base64", billing.ErrProviderNotConfigured)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty webhook secret", billing.ErrProviderNotConfigured)
	}
	return &verifier{secret: key, tolerance: defaultTolerance}, nil
}

// verify checks a delivery's signature and timestamp. A nil return means
// the body is authentic; every failure maps to ErrInvalidWebhookSignature.
func (v *verifier) verify(id, timestamp, sigHeader string, body []byte, now time.Time) error {
	if id == "" || timestamp == "" || sigHeader == "" {
		return fmt.Errorf("%w: missing signature headers", billing.ErrInvalidWebhookSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", billing.ErrInvalidWebhookSignature)
	}
	sent := time.Unix(ts, 0)
	if skew := now.Sub(sent); skew > v.tolerance || skew < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", billing.ErrInvalidWebhookSignature)
	}

	expected := v.sign(id, timestamp, body)

	for _, candidate := range strings.Fields(sigHeader) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1 {
			return nil
		}
	}
	return billing.ErrInvalidWebhookSignature
}

func (v *verifier) sign(id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
