package db

import (
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to the database named by TEST_DATABASE_URL
// (optionally loaded from .env). Without it the integration tests are
// skipped.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	_ = godotenv.Load("../../.env")
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	require.NoError(t, Init(url, "../../migrations"))
	t.Cleanup(func() { _ = Close() })
	return NewStore(DB)
}

func TestUserLifecycle(t *testing.T) {
	store := openTestStore(t)
	device := "test-device-" + time.Now().Format("150405.000000000")

	user, err := store.GetOrCreateUser(device)
	require.NoError(t, err)
	require.NotEmpty(t, user.UniqueID)
	require.Nil(t, user.UserAddress)

	again, err := store.GetOrCreateUser(device)
	require.NoError(t, err)
	require.Equal(t, user.UniqueID, again.UniqueID, "the unique id survives repeat lookups")

	byUnique, err := store.UserByUniqueID(user.UniqueID)
	require.NoError(t, err)
	require.NotNil(t, byUnique)
	require.Equal(t, device, byUnique.DeviceAddress)

	require.NoError(t, store.SetUserAddress(device, "I2ADHGP4HL6J37NQAD73J7E5SKFIXJOT"))
	require.NoError(t, store.SetUserIdentity(device, "12345", "alice"))

	user, err = store.GetOrCreateUser(device)
	require.NoError(t, err)
	require.Equal(t, "alice", *user.GithubUsername)

	// a new address invalidates the identity
	require.NoError(t, store.SetUserAddress(device, "FAB6TH7IRAVHDLK2AAWY5YBE6CEBUACF"))
	user, err = store.GetOrCreateUser(device)
	require.NoError(t, err)
	require.Nil(t, user.GithubID)
	require.Nil(t, user.GithubUsername)
}

func TestPaymentTransactionAndConfirmation(t *testing.T) {
	store := openTestStore(t)
	stamp := time.Now().Format("150405.000000000")
	device := "test-device-" + stamp
	receiving := "test-receiving-" + stamp
	unit := "test-unit-" + stamp

	_, err := store.GetOrCreateUser(device)
	require.NoError(t, err)
	require.NoError(t, store.CreateReceivingAddress(&ReceivingAddress{
		DeviceAddress:    device,
		UserAddress:      "I2ADHGP4HL6J37NQAD73J7E5SKFIXJOT",
		GithubID:         "12345",
		GithubUsername:   "alice",
		ReceivingAddress: receiving,
		PriceInBytes:     49000,
		LastPriceDate:    time.Now().UTC(),
	}))

	handled, err := store.UnitAlreadyHandled(unit)
	require.NoError(t, err)
	require.False(t, handled)

	txID, err := store.CreatePaymentTransaction(receiving, &AcceptedPayment{
		PriceInBytes:   49000,
		ReceivedAmount: 49000,
		PaymentUnit:    unit,
	})
	require.NoError(t, err)

	handled, err = store.UnitAlreadyHandled(unit)
	require.NoError(t, err)
	require.True(t, handled)

	confirmed, err := store.ConfirmPayment(txID)
	require.NoError(t, err)
	require.True(t, confirmed)

	confirmed, err = store.ConfirmPayment(txID)
	require.NoError(t, err)
	require.False(t, confirmed, "a payment confirms exactly once")

	require.NoError(t, store.EnsureAttestationUnit(txID))
	require.NoError(t, store.EnsureAttestationUnit(txID))

	job, err := store.AttestationJob(txID)
	require.NoError(t, err)
	require.Equal(t, "alice", job.GithubUsername)
	require.Nil(t, job.AttestationDate)

	require.NoError(t, store.MarkAttestationPosted(txID, "ATTESTATIONUNIT"))
	job, err = store.AttestationJob(txID)
	require.NoError(t, err)
	require.NotNil(t, job.AttestationDate)
	require.Equal(t, "ATTESTATIONUNIT", *job.AttestationUnit)

	status, err := store.LatestPaymentStatus(receiving)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.True(t, status.IsConfirmed)
	require.NotNil(t, status.AttestationDate)
}
