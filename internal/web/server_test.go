package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devid-org/github-attestation-bot/internal/db"
	"github.com/devid-org/github-attestation-bot/internal/github"
	"github.com/devid-org/github-attestation-bot/internal/texts"
)

type webStore struct {
	users        map[string]*db.User
	attestations []db.PublicAttestation
}

func (s *webStore) UserByUniqueID(uniqueID string) (*db.User, error) {
	return s.users[uniqueID], nil
}

func (s *webStore) SetUserIdentity(deviceAddress, githubID, githubUsername string) error {
	return nil
}

func (s *webStore) ReplaceIdentityOptions(deviceAddress string, options []db.IdentityOption) error {
	return nil
}

func (s *webStore) PublicAttestations(limit int) ([]db.PublicAttestation, error) {
	return s.attestations, nil
}

type webNotifier struct {
	sent []string
}

func (n *webNotifier) SendText(deviceAddress, text string) {
	n.sent = append(n.sent, text)
}

type webContinuer struct{}

func (webContinuer) IdentityObtained(ctx context.Context, deviceAddress string) (string, error) {
	return "", nil
}

func newTestServer(store *webStore, notifier *webNotifier) *Server {
	return NewServer(store, github.NewClient("id", "secret"), notifier, webContinuer{}, Config{
		Port:        "0",
		ExplorerURL: "https://explorer.example.org/#",
	})
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestIndexListsPublicAttestations(t *testing.T) {
	store := &webStore{attestations: []db.PublicAttestation{{
		UserAddress:     "I2ADHGP4HL6J37NQAD73J7E5SKFIXJOT",
		GithubUsername:  "alice",
		AttestationUnit: "UNIT1",
		AttestationDate: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}}}
	rec := get(t, newTestServer(store, &webNotifier{}), "/")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "alice")
	require.Contains(t, body, "I2ADHGP4HL6J37NQAD73J7E5SKFIXJOT")
	require.Contains(t, body, "https://explorer.example.org/#UNIT1")
}

func TestLoginRedirectsToGithub(t *testing.T) {
	rec := get(t, newTestServer(&webStore{}, &webNotifier{}), "/login?state=uid-1")

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	require.Contains(t, location, "https://github.com/login/oauth/authorize")
	require.Contains(t, location, "state=uid-1")
}

func TestLoginWithoutState(t *testing.T) {
	rec := get(t, newTestServer(&webStore{}, &webNotifier{}), "/login")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), texts.InvalidSessionParams())
}

func TestDoneRejectsMissingParams(t *testing.T) {
	s := newTestServer(&webStore{}, &webNotifier{})

	rec := get(t, s, "/done")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), texts.InvalidSessionParams())

	rec = get(t, s, "/done?code=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDoneRejectsUnknownState(t *testing.T) {
	rec := get(t, newTestServer(&webStore{users: map[string]*db.User{}}, &webNotifier{}), "/done?code=abc&state=stale")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), texts.ExpiredSessionParams())
}

func TestDoneWithoutAddressSendsUserBackToChat(t *testing.T) {
	store := &webStore{users: map[string]*db.User{
		"uid-1": {DeviceAddress: "100500", UniqueID: "uid-1"},
	}}
	notifier := &webNotifier{}
	rec := get(t, newTestServer(store, notifier), "/done?code=abc&state=uid-1")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), texts.ReturnChatInsertAddressAgain())
	require.Equal(t, []string{texts.InsertMyAddress()}, notifier.sent)
}
