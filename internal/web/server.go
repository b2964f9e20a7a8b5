// internal/web/server.go
package web

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/devid-org/github-attestation-bot/internal/db"
	"github.com/devid-org/github-attestation-bot/internal/github"
	"github.com/devid-org/github-attestation-bot/internal/logging"
	"github.com/devid-org/github-attestation-bot/internal/texts"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Store is the slice of the database the web server needs.
type Store interface {
	UserByUniqueID(uniqueID string) (*db.User, error)
	SetUserIdentity(deviceAddress, githubID, githubUsername string) error
	ReplaceIdentityOptions(deviceAddress string, options []db.IdentityOption) error
	PublicAttestations(limit int) ([]db.PublicAttestation, error)
}

// Notifier pushes messages into the chat.
type Notifier interface {
	SendText(deviceAddress, text string)
}

// Continuer resumes the chat flow once an identity has been stored.
type Continuer interface {
	IdentityObtained(ctx context.Context, deviceAddress string) (string, error)
}

type Config struct {
	Port               string
	ExplorerURL        string
	FetchOrganizations bool
}

type Server struct {
	store      Store
	github     *github.Client
	notifier   Notifier
	continuer  Continuer
	cfg        Config
	httpServer *http.Server
}

func NewServer(store Store, gh *github.Client, notifier Notifier, continuer Continuer, cfg Config) *Server {
	s := &Server{
		store:     store,
		github:    gh,
		notifier:  notifier,
		continuer: continuer,
		cfg:       cfg,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodGet)
	r.HandleFunc("/done", s.handleDone).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logging.Info("The web server has been launched", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>GitHub attestations</title></head>
<body>
<h1>Recent public attestations</h1>
<table border="1" cellpadding="4">
<tr><th>GitHub username</th><th>Address</th><th>Attestation unit</th><th>Date</th></tr>
{{range .Attestations}}
<tr>
<td><a href="https://github.com/{{.GithubUsername}}">{{.GithubUsername}}</a></td>
<td>{{.UserAddress}}</td>
<td><a href="{{$.ExplorerURL}}{{.AttestationUnit}}">{{.AttestationUnit}}</a></td>
<td>{{.AttestationDate.Format "2006-01-02 15:04:05"}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`))

var doneTemplate = template.Must(template.New("done").Parse(`<!DOCTYPE html>
<html>
<head><title>GitHub attestation</title></head>
<body>
<p>{{.Message}}</p>
</body>
</html>
`))

func (s *Server) renderDone(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	if err := doneTemplate.Execute(w, struct{ Message string }{message}); err != nil {
		logging.Error("failed to render page", zap.Error(err))
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	attestations, err := s.store.PublicAttestations(100)
	if err != nil {
		logging.Error("failed to list public attestations", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	data := struct {
		Attestations []db.PublicAttestation
		ExplorerURL  string
	}{attestations, s.cfg.ExplorerURL}
	if err := indexTemplate.Execute(w, data); err != nil {
		logging.Error("failed to render page", zap.Error(err))
	}
}

// handleLogin bounces the browser to GitHub's authorization page. The state
// parameter is the unique id of the chat user, so the callback can be routed
// back to the right conversation.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		s.renderDone(w, http.StatusBadRequest, texts.InvalidSessionParams())
		return
	}
	http.Redirect(w, r, s.github.AuthorizeURL(state), http.StatusFound)
}

// handleDone is the OAuth callback. It exchanges the code, stores the
// verified identity and hands the conversation back to the chat.
func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		s.renderDone(w, http.StatusBadRequest, texts.InvalidSessionParams())
		return
	}

	user, err := s.store.UserByUniqueID(state)
	if err != nil {
		logging.Error("failed to look up user by state", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		s.renderDone(w, http.StatusBadRequest, texts.ExpiredSessionParams())
		return
	}
	if user.UserAddress == nil {
		s.notifier.SendText(user.DeviceAddress, texts.InsertMyAddress())
		s.renderDone(w, http.StatusOK, texts.ReturnChatInsertAddressAgain())
		return
	}

	token, err := s.github.ExchangeCode(ctx, code)
	if err != nil {
		logging.Error("oauth code exchange failed", zap.Error(err))
		s.renderDone(w, http.StatusBadGateway, texts.FailedAuthentication())
		return
	}
	profile, err := s.github.FetchProfile(ctx, token)
	if err != nil {
		logging.Error("failed to fetch github profile", zap.Error(err))
		s.renderDone(w, http.StatusBadGateway, texts.FailedAuthentication())
		return
	}

	options := []db.IdentityOption{{
		DeviceAddress:  user.DeviceAddress,
		GithubID:       profile.GithubID(),
		GithubUsername: profile.Login,
	}}
	if s.cfg.FetchOrganizations {
		orgs, err := s.github.FetchOrganizations(ctx, token)
		if err != nil {
			// the personal account is still usable without its orgs
			logging.Warn("failed to fetch github organizations", zap.Error(err))
		}
		for _, org := range orgs {
			options = append(options, db.IdentityOption{
				DeviceAddress:  user.DeviceAddress,
				GithubID:       org.GithubID(),
				GithubUsername: org.Login,
				IsOrganization: true,
			})
		}
	}

	if err := s.store.SetUserIdentity(user.DeviceAddress, profile.GithubID(), profile.Login); err != nil {
		logging.Error("failed to store identity", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.store.ReplaceIdentityOptions(user.DeviceAddress, options); err != nil {
		logging.Error("failed to store identity options", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	logging.Info("github identity verified",
		zap.String("device", user.DeviceAddress),
		zap.String("username", profile.Login))

	s.notifier.SendText(user.DeviceAddress, texts.GotYourUsername())
	continuation, err := s.continuer.IdentityObtained(ctx, user.DeviceAddress)
	if err != nil {
		logging.Error("failed to continue chat flow", zap.Error(err))
	} else if continuation != "" {
		s.notifier.SendText(user.DeviceAddress, continuation)
	}

	s.renderDone(w, http.StatusOK, fmt.Sprintf("Your GitHub username %s has been verified. %s",
		profile.Login, texts.CloseThisWindow()))
}
