package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devid-org/github-attestation-bot/internal/db"
	"github.com/devid-org/github-attestation-bot/internal/kvlock"
	"github.com/devid-org/github-attestation-bot/internal/texts"
)

const (
	device       = "100500"
	aliceAddress = "I2ADHGP4HL6J37NQAD73J7E5SKFIXJOT"
	otherAddress = "FAB6TH7IRAVHDLK2AAWY5YBE6CEBUACF"
	price        = int64(49000)
)

type memoryStore struct {
	mu       sync.Mutex
	users    map[string]*db.User
	options  map[string][]db.IdentityOption
	ras      []*db.ReceivingAddress
	statuses map[string]*db.PaymentStatus // keyed by receiving address
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[string]*db.User),
		options:  make(map[string][]db.IdentityOption),
		statuses: make(map[string]*db.PaymentStatus),
	}
}

func (s *memoryStore) GetOrCreateUser(deviceAddress string) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[deviceAddress]
	if !ok {
		user = &db.User{DeviceAddress: deviceAddress, UniqueID: "uid-" + deviceAddress}
		s.users[deviceAddress] = user
	}
	copied := *user
	return &copied, nil
}

func (s *memoryStore) SetUserAddress(deviceAddress, userAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[deviceAddress]
	user.UserAddress = &userAddress
	user.GithubID = nil
	user.GithubUsername = nil
	return nil
}

func (s *memoryStore) SetUserIdentity(deviceAddress, githubID, githubUsername string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[deviceAddress]
	user.GithubID = &githubID
	user.GithubUsername = &githubUsername
	return nil
}

func (s *memoryStore) IdentityOptions(deviceAddress string) ([]db.IdentityOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options[deviceAddress], nil
}

func (s *memoryStore) IdentityOptionByUsername(deviceAddress, githubUsername string) (*db.IdentityOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, option := range s.options[deviceAddress] {
		if strings.EqualFold(option.GithubUsername, githubUsername) {
			copied := option
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) FindReceivingAddress(deviceAddress, userAddress, githubID string) (*db.ReceivingAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ra := range s.ras {
		if ra.DeviceAddress == deviceAddress && ra.UserAddress == userAddress && ra.GithubID == githubID {
			copied := *ra
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) CreateReceivingAddress(ra *db.ReceivingAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *ra
	s.ras = append(s.ras, &copied)
	return nil
}

func (s *memoryStore) SetPostPublicly(deviceAddress, userAddress, githubID string, public bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ra := range s.ras {
		if ra.DeviceAddress == deviceAddress && ra.UserAddress == userAddress && ra.GithubID == githubID {
			ra.PostPublicly = &public
		}
	}
	return nil
}

func (s *memoryStore) LatestPaymentStatus(receivingAddress string) (*db.PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[receivingAddress], nil
}

type issuingLedger struct {
	mu     sync.Mutex
	issued int
}

func (l *issuingLedger) IssueNextAddress(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issued++
	return fmt.Sprintf("RECV%028d", l.issued), nil
}

type stubProofHandler struct {
	called []string
	reply  string
}

func (h *stubProofHandler) Handle(ctx context.Context, ra *db.ReceivingAddress, encodedEnvelope string) (string, error) {
	h.called = append(h.called, encodedEnvelope)
	return h.reply, nil
}

func newTestOrchestrator(store Store, ledger Ledger, proofs ProofHandler) *Orchestrator {
	return NewOrchestrator(store, ledger, proofs, kvlock.New(), OrchestratorConfig{
		Site:                "https://devid.example.org",
		PriceInBytes:        price,
		AllowProofByPayment: true,
	})
}

func say(t *testing.T, o *Orchestrator, text string) string {
	t.Helper()
	reply, err := o.Respond(context.Background(), device, text)
	require.NoError(t, err)
	return reply
}

func setIdentity(s *memoryStore, username, githubID string) {
	id := githubID
	name := username
	s.users[device].GithubID = &id
	s.users[device].GithubUsername = &name
}

func TestAsksForAddressFirst(t *testing.T) {
	o := newTestOrchestrator(newMemoryStore(), &issuingLedger{}, &stubProofHandler{})

	require.Equal(t, texts.InsertMyAddress(), say(t, o, "hello"))
	require.Equal(t, texts.InsertMyAddress(), say(t, o, "/start"))
}

func TestAddressThenIdentityProof(t *testing.T) {
	store := newMemoryStore()
	o := newTestOrchestrator(store, &issuingLedger{}, &stubProofHandler{})

	reply := say(t, o, aliceAddress)
	require.Contains(t, reply, texts.GoingToAttestAddress(aliceAddress))
	require.Contains(t, reply, "uid-"+device, "the login link carries the unique id")
	require.Contains(t, reply, "https://devid.example.org/login?state=")
}

func TestNewAddressResetsIdentity(t *testing.T) {
	store := newMemoryStore()
	o := newTestOrchestrator(store, &issuingLedger{}, &stubProofHandler{})

	say(t, o, aliceAddress)
	setIdentity(store, "alice", "12345")

	reply := say(t, o, otherAddress)
	require.Contains(t, reply, texts.GoingToAttestAddress(otherAddress))
	require.Contains(t, reply, "/login?state=", "a new address requires a fresh identity proof")
	require.Nil(t, store.users[device].GithubID)
}

func TestAssignsReceivingAddressOnce(t *testing.T) {
	store := newMemoryStore()
	ledger := &issuingLedger{}
	o := newTestOrchestrator(store, ledger, &stubProofHandler{})

	say(t, o, aliceAddress)
	setIdentity(store, "alice", "12345")

	require.Equal(t, texts.PrivateOrPublic(), say(t, o, "anything"))
	say(t, o, "something else")
	require.Equal(t, 1, ledger.issued, "the triple keeps its receiving address")

	require.Len(t, store.ras, 1)
	require.Equal(t, price, store.ras[0].PriceInBytes)
}

func TestVisibilityChoiceThenPaymentRequest(t *testing.T) {
	store := newMemoryStore()
	o := newTestOrchestrator(store, &issuingLedger{}, &stubProofHandler{})

	say(t, o, aliceAddress)
	setIdentity(store, "alice", "12345")
	say(t, o, "hi")

	reply := say(t, o, "public")
	require.Contains(t, reply, "will be posted into the public database")
	require.Contains(t, reply, "Please pay for the attestation")
	require.Contains(t, reply, "alice "+aliceAddress, "the challenge is username space address")

	// flipping the choice later works and is followed by the payment request
	reply = say(t, o, "private")
	require.Contains(t, reply, "kept private")
	require.Contains(t, reply, store.ras[0].ReceivingAddress)
}

func TestChooseSwitchesIdentity(t *testing.T) {
	store := newMemoryStore()
	o := newTestOrchestrator(store, &issuingLedger{}, &stubProofHandler{})

	say(t, o, aliceAddress)
	setIdentity(store, "alice", "12345")
	store.options[device] = []db.IdentityOption{
		{DeviceAddress: device, GithubID: "12345", GithubUsername: "alice"},
		{DeviceAddress: device, GithubID: "67890", GithubUsername: "acme-org", IsOrganization: true},
	}

	reply := say(t, o, "choose acme-org")
	require.Contains(t, reply, texts.GoingToAttestUsername("acme-org"))
	require.Equal(t, "67890", *store.users[device].GithubID)

	reply = say(t, o, "choose nobody")
	require.Contains(t, reply, "Unknown username nobody")
}

func TestSignedEnvelopeGoesToProofHandler(t *testing.T) {
	store := newMemoryStore()
	proofs := &stubProofHandler{}
	o := newTestOrchestrator(store, &issuingLedger{}, proofs)

	say(t, o, aliceAddress)
	setIdentity(store, "alice", "12345")
	say(t, o, "private")

	reply := say(t, o, "(signed-message:ZXZlbnQ=)")
	require.Empty(t, reply)
	require.Equal(t, []string{"ZXZlbnQ="}, proofs.called)
}

func TestPaymentStatusReplies(t *testing.T) {
	store := newMemoryStore()
	o := newTestOrchestrator(store, &issuingLedger{}, &stubProofHandler{})

	say(t, o, aliceAddress)
	setIdentity(store, "alice", "12345")
	say(t, o, "public")
	ra := store.ras[0].ReceivingAddress

	store.statuses[ra] = &db.PaymentStatus{TransactionID: 1, ReceivedAmount: price}
	require.Equal(t, texts.ReceivedYourPayment(price), say(t, o, "how is it going"))

	store.statuses[ra].IsConfirmed = true
	require.Equal(t, texts.PaymentIsConfirmed(), say(t, o, "and now"))

	stamp := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.statuses[ra].AttestationDate = &stamp
	require.Equal(t, texts.AlreadyAttested("2026-08-01 12:00:00"), say(t, o, "and now"))

	// 'again' restarts from the identity proof
	require.Contains(t, say(t, o, "again"), "/login?state=")
}

func TestIdentityObtainedContinuation(t *testing.T) {
	store := newMemoryStore()
	o := newTestOrchestrator(store, &issuingLedger{}, &stubProofHandler{})

	say(t, o, aliceAddress)
	setIdentity(store, "alice", "12345")
	store.options[device] = []db.IdentityOption{
		{DeviceAddress: device, GithubID: "12345", GithubUsername: "alice"},
		{DeviceAddress: device, GithubID: "67890", GithubUsername: "acme-org", IsOrganization: true},
	}

	reply, err := o.IdentityObtained(context.Background(), device)
	require.NoError(t, err)
	require.Contains(t, reply, "Your GitHub username is alice")
	require.Contains(t, reply, "choose acme-org")
	require.Contains(t, reply, texts.PrivateOrPublic())

	// with a visibility already chosen the continuation asks for payment
	say(t, o, "public")
	reply, err = o.IdentityObtained(context.Background(), device)
	require.NoError(t, err)
	require.Contains(t, reply, "Please pay for the attestation")
}

func TestIdentityObtainedWithoutAddress(t *testing.T) {
	store := newMemoryStore()
	o := newTestOrchestrator(store, &issuingLedger{}, &stubProofHandler{})

	_, err := store.GetOrCreateUser(device)
	require.NoError(t, err)

	reply, err := o.IdentityObtained(context.Background(), device)
	require.NoError(t, err)
	require.Equal(t, texts.InsertMyAddress(), reply)
}
