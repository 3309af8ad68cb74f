package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/security"
)

// SignatureHeader is the request header carrying the signed-payload
// signature on inbound deliveries.
const SignatureHeader = "Payments-Signature"

// DefaultTolerance bounds how old a signed timestamp may be before the
// delivery is treated as a replay.
const DefaultTolerance = 5 * time.Minute

const signatureSchemeVersion = "v1"

// SignedPayloadVerifier checks the timestamped HMAC signature attached
// to provider deliveries. The signed message is "<timestamp>.<payload>"
// and any signature produced by a currently accepted secret passes,
// which keeps deliveries verifiable across secret rotation.
type SignedPayloadVerifier struct {
	Secrets   security.SecretSource
	Tolerance time.Duration
	Now       func() time.Time
}

// NewSignedPayloadVerifier builds a verifier over the given secret
// source with the default replay tolerance.
func NewSignedPayloadVerifier(secrets security.SecretSource) (*SignedPayloadVerifier, error) {
	if secrets == nil {
		return nil, fmt.Errorf("webhooks: secret source is required")
	}

	return &SignedPayloadVerifier{
		Secrets:   secrets,
		Tolerance: DefaultTolerance,
		Now:       time.Now,
	}, nil
}

// Verify checks header against payload. It returns an invalid
// signature error when the header is malformed, the timestamp is
// outside tolerance, or no candidate signature matches a secret.
func (v *SignedPayloadVerifier) Verify(header string, payload []byte) error {
	if v == nil || v.Secrets == nil {
		return fmt.Errorf("webhooks: verifier is not configured")
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return core.NewInvalidSignatureError("signature header is missing")
	}

	timestamp, candidates, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	now := v.now()
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	signedAt := time.Unix(timestamp, 0)
	if now.Sub(signedAt) > tolerance || signedAt.Sub(now) > tolerance {
		return core.NewInvalidSignatureError("signature timestamp is outside tolerance")
	}

	secrets := v.Secrets.Secrets(now)
	if len(secrets) == 0 {
		return core.NewInvalidSignatureError("no signing secrets are configured")
	}

	for _, secret := range secrets {
		expected := computeSignature(secret, timestamp, payload)
		for _, candidate := range candidates {
			if hmac.Equal(expected, candidate) {
				return nil
			}
		}
	}

	return core.NewInvalidSignatureError("signature does not match any accepted secret")
}

func (v *SignedPayloadVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Sign produces a signature header for payload at the given time using
// the active secret. It is used by tests and by outbound redelivery
// tooling.
func Sign(secret string, at time.Time, payload []byte) string {
	timestamp := at.Unix()
	signature := computeSignature(secret, timestamp, payload)
	return fmt.Sprintf("t=%d,%s=%s", timestamp, signatureSchemeVersion, hex.EncodeToString(signature))
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var (
		timestamp    int64
		hasTimestamp bool
		candidates   [][]byte
	)

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, core.NewInvalidSignatureError("signature header is malformed")
		}

		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil || parsed <= 0 {
				return 0, nil, core.NewInvalidSignatureError("signature timestamp is invalid")
			}
			timestamp = parsed
			hasTimestamp = true
		case signatureSchemeVersion:
			decoded, err := hex.DecodeString(value)
			if err != nil || len(decoded) == 0 {
				return 0, nil, core.NewInvalidSignatureError("signature value is not valid hex")
			}
			candidates = append(candidates, decoded)
		default:
			// Unknown scheme versions are skipped so newer signing
			// schemes can ship alongside v1.
		}
	}

	if !hasTimestamp {
		return 0, nil, core.NewInvalidSignatureError("signature timestamp is missing")
	}

	if len(candidates) == 0 {
		return 0, nil, core.NewInvalidSignatureError("signature header carries no v1 signature")
	}

	return timestamp, candidates, nil
}

func computeSignature(secret string, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return mac.Sum(nil)
}
