package proof

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devid-org/github-attestation-bot/internal/db"
	"github.com/devid-org/github-attestation-bot/internal/obyte"
)

const (
	userAddress      = "I2ADHGP4HL6J37NQAD73J7E5SKFIXJOT"
	otherAddress     = "FAB6TH7IRAVHDLK2AAWY5YBE6CEBUACF"
	receivingAddress = "RECV6666666666666666666666666666"
)

type proofStore struct {
	recentProof bool
	proofs      []db.SignedMessage
	nextTxID    int64
}

func (s *proofStore) RecentSignedProofExists(userAddress, githubUsername string, since time.Time) (bool, error) {
	return s.recentProof, nil
}

func (s *proofStore) CreateSignatureTransaction(receivingAddress string, proof *db.SignedMessage) (int64, error) {
	s.nextTxID++
	proof.TransactionID = s.nextTxID
	s.proofs = append(s.proofs, *proof)
	return s.nextTxID, nil
}

type proofLedger struct {
	validateErr error
}

func (l *proofLedger) ValidateSignedMessage(ctx context.Context, message *obyte.SignedMessage) error {
	return l.validateErr
}

type proofAttester struct {
	attested  []int64
	attestErr error
}

func (a *proofAttester) Attest(ctx context.Context, transactionID int64) error {
	a.attested = append(a.attested, transactionID)
	return a.attestErr
}

func testRA() *db.ReceivingAddress {
	return &db.ReceivingAddress{
		DeviceAddress:    "100500",
		UserAddress:      userAddress,
		GithubID:         "12345",
		GithubUsername:   "alice",
		ReceivingAddress: receivingAddress,
	}
}

func envelope(t *testing.T, signedText, author string) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"signed_message": signedText,
		"authors":        []map[string]string{{"address": author}},
		"version":        "3.0",
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func TestExtractEnvelope(t *testing.T) {
	blob, ok := ExtractEnvelope("here you go (signed-message:ZXZlbnQ=) thanks")
	require.True(t, ok)
	require.Equal(t, "ZXZlbnQ=", blob)

	_, ok = ExtractEnvelope("just some chat text")
	require.False(t, ok)
}

func TestValidProofCreatesTransactionAndAttests(t *testing.T) {
	store := &proofStore{}
	attester := &proofAttester{}
	v := NewValidator(store, &proofLedger{}, attester)

	reply, err := v.Handle(context.Background(), testRA(), envelope(t, "alice "+userAddress, userAddress))
	require.NoError(t, err)
	require.Empty(t, reply, "the issuer speaks on success")

	require.Len(t, store.proofs, 1)
	require.Equal(t, userAddress, store.proofs[0].UserAddress)
	require.Equal(t, "alice", store.proofs[0].GithubUsername)
	require.Contains(t, store.proofs[0].SignedMessage, "signed_message", "the raw envelope is stored")
	require.Equal(t, []int64{1}, attester.attested)
}

func TestMalformedEnvelope(t *testing.T) {
	v := NewValidator(&proofStore{}, &proofLedger{}, &proofAttester{})

	reply, err := v.Handle(context.Background(), testRA(), "%%%not-base64%%%")
	require.NoError(t, err)
	require.Equal(t, "The signed message is malformed.", reply)

	reply, err = v.Handle(context.Background(), testRA(), base64.StdEncoding.EncodeToString([]byte("not json")))
	require.NoError(t, err)
	require.Equal(t, "The signed message is malformed.", reply)
}

func TestInvalidSignatureIsReported(t *testing.T) {
	store := &proofStore{}
	v := NewValidator(store, &proofLedger{validateErr: errors.New("signature verification failed")}, &proofAttester{})

	reply, err := v.Handle(context.Background(), testRA(), envelope(t, "alice "+userAddress, userAddress))
	require.NoError(t, err)
	require.Equal(t, "signature verification failed", reply)
	require.Empty(t, store.proofs)
}

func TestWrongChallengeText(t *testing.T) {
	store := &proofStore{}
	v := NewValidator(store, &proofLedger{}, &proofAttester{})

	reply, err := v.Handle(context.Background(), testRA(), envelope(t, "something else entirely", userAddress))
	require.NoError(t, err)
	require.Contains(t, reply, "You signed a wrong message")
	require.Contains(t, reply, "alice "+userAddress)
	require.Empty(t, store.proofs)
}

func TestWrongSigner(t *testing.T) {
	store := &proofStore{}
	v := NewValidator(store, &proofLedger{}, &proofAttester{})

	reply, err := v.Handle(context.Background(), testRA(), envelope(t, "alice "+userAddress, otherAddress))
	require.NoError(t, err)
	require.Contains(t, reply, "wrong address: "+otherAddress)
	require.Empty(t, store.proofs)
}

func TestRecentProofIsNotReplayed(t *testing.T) {
	store := &proofStore{recentProof: true}
	attester := &proofAttester{}
	v := NewValidator(store, &proofLedger{}, attester)

	reply, err := v.Handle(context.Background(), testRA(), envelope(t, "alice "+userAddress, userAddress))
	require.NoError(t, err)
	require.Equal(t, "You are already attested.", reply)
	require.Empty(t, store.proofs)
	require.Empty(t, attester.attested)
}

func TestAttestFailureStillRecordsProof(t *testing.T) {
	store := &proofStore{}
	attester := &proofAttester{attestErr: errors.New("wallet offline")}
	v := NewValidator(store, &proofLedger{}, attester)

	reply, err := v.Handle(context.Background(), testRA(), envelope(t, "alice "+userAddress, userAddress))
	require.NoError(t, err)
	require.Empty(t, reply)
	require.Len(t, store.proofs, 1, "the retry sweep finishes the posting later")
}
