package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestCodec(t *testing.T, clock *fakeClock, opts ...CodecOption) *Codec {
	t.Helper()

	opts = append([]CodecOption{WithClock(clock.Now)}, opts...)
	codec, err := NewCodec(testSecret, opts...)
	require.NoError(t, err)
	return codec
}

func TestNewCodecRejectsShortSecret(t *testing.T) {
	t.Parallel()

	_, err := NewCodec("too-short")
	require.Error(t, err)
}

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	codec := newTestCodec(t, clock, WithIssuer("storefront"))

	issued, err := codec.Issue("user-1", KindAccess, 15*time.Minute, WithAdmin(true))
	require.NoError(t, err)
	require.Equal(t, clock.now.Add(15*time.Minute), issued.ExpiresAt)

	claims, err := codec.Verify(issued.Value, KindAccess)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.SubjectID())
	require.Equal(t, issued.ID, claims.TokenID())
	require.True(t, claims.Admin)
	require.Equal(t, "storefront", claims.Issuer)
}

func TestIssueValidatesInput(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, &fakeClock{now: time.Now()})

	_, err := codec.Issue(" ", KindAccess, time.Minute)
	require.Error(t, err)
	_, err = codec.Issue("user-1", Kind("session"), time.Minute)
	require.Error(t, err)
	_, err = codec.Issue("user-1", KindAccess, 0)
	require.Error(t, err)
}

func TestRefreshTokensCarryDistinctRotationIDs(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, &fakeClock{now: time.Now()})

	first, err := codec.Issue("user-1", KindRefresh, time.Hour)
	require.NoError(t, err)
	second, err := codec.Issue("user-1", KindRefresh, time.Hour)
	require.NoError(t, err)

	require.Len(t, first.ID, 26)
	require.NotEqual(t, first.ID, second.ID)

	pinned, err := codec.Issue("user-1", KindRefresh, time.Hour, WithID("rot-1"))
	require.NoError(t, err)
	claims, err := codec.Verify(pinned.Value, KindRefresh)
	require.NoError(t, err)
	require.Equal(t, "rot-1", claims.TokenID())
}

func TestVerifyRejectsKindConfusion(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, &fakeClock{now: time.Now()})
	kinds := []Kind{KindAccess, KindRefresh, KindReset, KindVerify}

	for _, issuedAs := range kinds {
		issued, err := codec.Issue("user-1", issuedAs, time.Hour)
		require.NoError(t, err)

		for _, expected := range kinds {
			_, err := codec.Verify(issued.Value, expected)
			if issuedAs == expected {
				require.NoError(t, err)
				continue
			}
			require.ErrorIs(t, err, ErrKindMismatch, "issued %s verified as %s", issuedAs, expected)
		}
	}
}

func TestVerifyExpiryHonoursLeeway(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	codec := newTestCodec(t, clock, WithLeeway(5*time.Second))

	issued, err := codec.Issue("user-1", KindAccess, time.Minute)
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Minute + 3*time.Second)
	_, err = codec.Verify(issued.Value, KindAccess)
	require.NoError(t, err)

	clock.now = clock.now.Add(10 * time.Second)
	_, err = codec.Verify(issued.Value, KindAccess)
	require.ErrorIs(t, err, ErrExpired)

	claims, err := codec.VerifyIgnoringExpiry(issued.Value, KindAccess)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.SubjectID())
}

func TestVerifyDetectsTampering(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	codec := newTestCodec(t, clock)

	issued, err := codec.Issue("user-1", KindAccess, time.Minute)
	require.NoError(t, err)

	t.Run("flipped signature", func(t *testing.T) {
		parts := strings.Split(issued.Value, ".")
		require.Len(t, parts, 3)
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		_, err := codec.Verify(parts[0]+"."+parts[1]+"."+string(sig), KindAccess)
		require.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("foreign secret", func(t *testing.T) {
		other, err := NewCodec("fedcba9876543210fedcba9876543210", WithClock(clock.Now))
		require.NoError(t, err)
		foreign, err := other.Issue("user-1", KindAccess, time.Minute)
		require.NoError(t, err)

		_, err = codec.Verify(foreign.Value, KindAccess)
		require.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("expired and forged reports signature", func(t *testing.T) {
		other, err := NewCodec("fedcba9876543210fedcba9876543210", WithClock(func() time.Time {
			return clock.now.Add(-time.Hour)
		}))
		require.NoError(t, err)
		forged, err := other.Issue("user-1", KindAccess, time.Minute)
		require.NoError(t, err)

		_, err = codec.Verify(forged.Value, KindAccess)
		require.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("unsigned token", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
			Kind:             KindAccess,
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ID: "x"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = codec.Verify(unsigned, KindAccess)
		require.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := codec.Verify("not-a-token", KindAccess)
		require.ErrorIs(t, err, ErrMalformed)

		_, err = codec.Verify("", KindAccess)
		require.ErrorIs(t, err, ErrMalformed)
	})
}
