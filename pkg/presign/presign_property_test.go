//go:build property
// +build property

package presign_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/takeoffworks/estimator/pkg/presign"
)

// TestPresignRoundTrip checks invariant 4 from the spec: Verify(Sign(a, s,
// ttl)) succeeds at any t in [now, now+ttl+skew], for any action/subject
// string and any ttl within a day.
func TestPresignRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sign then verify succeeds within ttl+skew", prop.ForAll(
		func(action, subject string, ttlSeconds int, elapsedSeconds int) bool {
			if action == "" || subject == "" {
				return true
			}
			ttl := time.Duration(ttlSeconds%86400+1) * time.Second
			skew := 30 * time.Second
			elapsed := time.Duration(elapsedSeconds%int(ttl/time.Second+int64(skew/time.Second))) * time.Second

			signTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			signer := presign.NewSigner("property-secret").WithClock(func() time.Time { return signTime }).WithClockSkew(skew)
			signed := signer.Sign(action, subject, ttl)

			verifier := presign.NewSigner("property-secret").
				WithClock(func() time.Time { return signTime.Add(elapsed) }).
				WithClockSkew(skew)

			return verifier.Verify(signed.Action, subject, signed.ExpiresAt, signed.Signature) == nil
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(1, 86400),
		gen.IntRange(0, 86400),
	))

	properties.Property("tampering with subject always fails verification", prop.ForAll(
		func(action, subject, other string) bool {
			if action == "" || subject == "" || other == "" || subject == other {
				return true
			}
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			signer := presign.NewSigner("property-secret").WithClock(func() time.Time { return now })
			signed := signer.Sign(action, subject, time.Hour)

			return signer.Verify(action, other, signed.ExpiresAt, signed.Signature) != nil
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
