package presign_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/takeoffworks/estimator/pkg/errs"
	"github.com/takeoffworks/estimator/pkg/presign"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSignThenVerify_Succeeds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := presign.NewSigner("test-secret").WithClock(fixedClock(now))

	signed := s.Sign("download", "artifact-1", 15*time.Minute)
	err := s.Verify(signed.Action, "artifact-1", signed.ExpiresAt, signed.Signature)
	require.NoError(t, err)
}

func TestVerify_ExpiredPastSkewRejected(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := presign.NewSigner("test-secret").WithClock(fixedClock(now)).WithClockSkew(5 * time.Second)

	signed := s.Sign("download", "artifact-1", 10*time.Second)

	later := presign.NewSigner("test-secret").WithClock(fixedClock(now.Add(16 * time.Second))).WithClockSkew(5 * time.Second)
	err := later.Verify(signed.Action, "artifact-1", signed.ExpiresAt, signed.Signature)
	require.Error(t, err)
	require.Equal(t, errs.Unauthenticated, errs.KindOf(err))
}

func TestVerify_WithinSkewAccepted(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := presign.NewSigner("test-secret").WithClock(fixedClock(now)).WithClockSkew(30 * time.Second)
	signed := s.Sign("download", "artifact-1", 10*time.Second)

	later := presign.NewSigner("test-secret").WithClock(fixedClock(now.Add(25 * time.Second))).WithClockSkew(30 * time.Second)
	err := later.Verify(signed.Action, "artifact-1", signed.ExpiresAt, signed.Signature)
	require.NoError(t, err)
}

func TestVerify_WrongActionRejected(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := presign.NewSigner("test-secret").WithClock(fixedClock(now))
	signed := s.Sign("upload", "file-1", time.Minute)

	err := s.Verify("download", "file-1", signed.ExpiresAt, signed.Signature)
	require.Error(t, err)
	require.Equal(t, errs.Unauthenticated, errs.KindOf(err))
}

func TestVerify_TamperedSignatureRejected(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := presign.NewSigner("test-secret").WithClock(fixedClock(now))
	signed := s.Sign("download", "artifact-1", time.Minute)

	tampered := signed.Signature[:len(signed.Signature)-1] + "x"
	err := s.Verify(signed.Action, "artifact-1", signed.ExpiresAt, tampered)
	require.Error(t, err)
	require.Equal(t, errs.Unauthenticated, errs.KindOf(err))
}

func TestVerify_DifferentSecretRejected(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer := presign.NewSigner("secret-a").WithClock(fixedClock(now))
	signed := signer.Sign("download", "artifact-1", time.Minute)

	other := presign.NewSigner("secret-b").WithClock(fixedClock(now))
	err := other.Verify(signed.Action, "artifact-1", signed.ExpiresAt, signed.Signature)
	require.Error(t, err)
}
