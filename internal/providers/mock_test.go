package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "guestgate/pkg/domain"
)

func TestMockIdentityVerifier(t *testing.T) {
	verifier := &MockIdentityVerifier{}
	document := Image{Content: []byte("doc"), ContentType: "image/jpeg"}
	selfie := Image{Content: []byte("selfie"), ContentType: "image/jpeg"}

	t.Run("verifies a readable document", func(t *testing.T) {
		verdict, err := verifier.VerifyDocument(context.Background(), Subject{GuestID: id.NewGuestID(), FullName: "Ada Lovelace"}, document, selfie)
		require.NoError(t, err)
		assert.True(t, verdict.Verified)
		assert.NotEmpty(t, verdict.Reference)
	})

	t.Run("rejects a blurry document", func(t *testing.T) {
		verdict, err := verifier.VerifyDocument(context.Background(), Subject{GuestID: id.NewGuestID(), FullName: "Blurry Bill"}, document, selfie)
		require.NoError(t, err)
		assert.False(t, verdict.Verified)
		assert.Equal(t, "document_unreadable", verdict.Reason)
	})

	t.Run("rejects empty images", func(t *testing.T) {
		verdict, err := verifier.VerifyDocument(context.Background(), Subject{GuestID: id.NewGuestID(), FullName: "Ada Lovelace"}, Image{}, selfie)
		require.NoError(t, err)
		assert.False(t, verdict.Verified)
		assert.Equal(t, "empty_image", verdict.Reason)
	})

	t.Run("references are unique", func(t *testing.T) {
		first, err := verifier.VerifyDocument(context.Background(), Subject{GuestID: id.NewGuestID()}, document, selfie)
		require.NoError(t, err)
		second, err := verifier.VerifyDocument(context.Background(), Subject{GuestID: id.NewGuestID()}, document, selfie)
		require.NoError(t, err)
		assert.NotEqual(t, first.Reference, second.Reference)
	})
}

func TestMockPhoneVerifier(t *testing.T) {
	verifier := &MockPhoneVerifier{TTL: 30 * time.Second}

	challenge, err := verifier.RequestCode(context.Background(), "+1 (415) 555-0123")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, challenge.TTL)
	// Reference keeps only the trailing digits, never the full number.
	assert.Contains(t, challenge.Reference, "0123")
	assert.NotContains(t, challenge.Reference, "415")

	check, err := verifier.VerifyCode(context.Background(), challenge.Reference, "123456")
	require.NoError(t, err)
	assert.True(t, check.Verified)

	check, err = verifier.VerifyCode(context.Background(), challenge.Reference, "000000")
	require.NoError(t, err)
	assert.False(t, check.Verified)
	assert.Equal(t, "code_mismatch", check.Reason)
}

func TestMockPhoneVerifier_DefaultTTL(t *testing.T) {
	verifier := &MockPhoneVerifier{}

	challenge, err := verifier.RequestCode(context.Background(), "4155550123")
	require.NoError(t, err)
	assert.Zero(t, challenge.TTL)
}

func TestMockBackgroundChecker(t *testing.T) {
	checker := &MockBackgroundChecker{}

	t.Run("clear subject settles after one running poll", func(t *testing.T) {
		report, err := checker.InitiateCheck(context.Background(), Subject{GuestID: id.NewGuestID(), FullName: "Ada Lovelace"})
		require.NoError(t, err)
		assert.Equal(t, BackgroundRunning, report.State)

		report, err = checker.CheckStatus(context.Background(), report.Reference)
		require.NoError(t, err)
		assert.Equal(t, BackgroundRunning, report.State)

		report, err = checker.CheckStatus(context.Background(), report.Reference)
		require.NoError(t, err)
		assert.Equal(t, BackgroundClear, report.State)
		assert.Empty(t, report.Reason)
	})

	t.Run("flagged subject settles flagged", func(t *testing.T) {
		report, err := checker.InitiateCheck(context.Background(), Subject{GuestID: id.NewGuestID(), FullName: "Flagged Fred"})
		require.NoError(t, err)

		_, err = checker.CheckStatus(context.Background(), report.Reference)
		require.NoError(t, err)

		report, err = checker.CheckStatus(context.Background(), report.Reference)
		require.NoError(t, err)
		assert.Equal(t, BackgroundFlagged, report.State)
		assert.Equal(t, "record_found", report.Reason)
	})

	t.Run("unknown reference errors", func(t *testing.T) {
		_, err := checker.CheckStatus(context.Background(), "bgc-missing")
		assert.Error(t, err)
	})
}
