// internal/bot/orchestrator.go
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devid-org/github-attestation-bot/internal/db"
	"github.com/devid-org/github-attestation-bot/internal/kvlock"
	"github.com/devid-org/github-attestation-bot/internal/obyte"
	"github.com/devid-org/github-attestation-bot/internal/proof"
	"github.com/devid-org/github-attestation-bot/internal/texts"
)

// Store is the slice of the database the conversation flow needs.
type Store interface {
	GetOrCreateUser(deviceAddress string) (*db.User, error)
	SetUserAddress(deviceAddress, userAddress string) error
	SetUserIdentity(deviceAddress, githubID, githubUsername string) error
	IdentityOptions(deviceAddress string) ([]db.IdentityOption, error)
	IdentityOptionByUsername(deviceAddress, githubUsername string) (*db.IdentityOption, error)
	FindReceivingAddress(deviceAddress, userAddress, githubID string) (*db.ReceivingAddress, error)
	CreateReceivingAddress(ra *db.ReceivingAddress) error
	SetPostPublicly(deviceAddress, userAddress, githubID string, public bool) error
	LatestPaymentStatus(receivingAddress string) (*db.PaymentStatus, error)
}

// Ledger issues receiving addresses.
type Ledger interface {
	IssueNextAddress(ctx context.Context) (string, error)
}

// ProofHandler runs an inline ownership proof.
type ProofHandler interface {
	Handle(ctx context.Context, ra *db.ReceivingAddress, encodedEnvelope string) (string, error)
}

type OrchestratorConfig struct {
	Site                string
	PriceInBytes        int64
	AllowProofByPayment bool
}

// Orchestrator decides what to say next. All dialogue state is derived from
// persisted records, so any message can be answered correctly after a
// restart.
type Orchestrator struct {
	store  Store
	ledger Ledger
	proofs ProofHandler
	locks  *kvlock.Manager
	cfg    OrchestratorConfig
}

func NewOrchestrator(store Store, ledger Ledger, proofs ProofHandler, locks *kvlock.Manager, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		store:  store,
		ledger: ledger,
		proofs: proofs,
		locks:  locks,
		cfg:    cfg,
	}
}

// SetProofHandler breaks the construction cycle between the orchestrator,
// the issuer and the chat transport; it must be called before the first
// message arrives.
func (o *Orchestrator) SetProofHandler(proofs ProofHandler) {
	o.proofs = proofs
}

func (o *Orchestrator) loginURL(uniqueID string) string {
	// the chat client only handles links with a single query parameter
	return o.cfg.Site + "/login?state=" + uniqueID
}

func join(response, next string) string {
	if response == "" {
		return next
	}
	if next == "" {
		return response
	}
	return response + "\n\n" + next
}

// Respond handles one inbound message and returns the reply. States are
// checked in precedence order; the first unsatisfied one wins.
func (o *Orchestrator) Respond(ctx context.Context, deviceAddress, text string) (string, error) {
	user, err := o.store.GetOrCreateUser(deviceAddress)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	command := strings.ToLower(text)
	var response string

	// (1) claimed address: a valid address token always (re)sets it, which
	// also invalidates any previously linked identity.
	if obyte.IsValidAddress(text) {
		if err := o.store.SetUserAddress(deviceAddress, text); err != nil {
			return "", err
		}
		user.UserAddress = &text
		user.GithubID = nil
		user.GithubUsername = nil
		response = texts.GoingToAttestAddress(text)
	}
	if user.UserAddress == nil {
		return join(response, texts.InsertMyAddress()), nil
	}

	// (2) rebind the active identity among the fetched options
	if username, ok := strings.CutPrefix(command, "choose "); ok {
		reply, err := o.chooseIdentity(user, strings.TrimSpace(username))
		if err != nil {
			return "", err
		}
		if reply != "" {
			return join(response, reply), nil
		}
		response = join(response, texts.GoingToAttestUsername(*user.GithubUsername))
	}

	// (3) identity proof
	if user.GithubID == nil || user.GithubUsername == nil {
		return join(response, texts.ProveUsername(o.loginURL(user.UniqueID))), nil
	}

	ra, err := o.readOrAssignReceivingAddress(ctx, user)
	if err != nil {
		return "", err
	}

	// (4) visibility choice
	if command == "private" || command == "public" {
		public := command == "public"
		if err := o.store.SetPostPublicly(deviceAddress, *user.UserAddress, *user.GithubID, public); err != nil {
			return "", err
		}
		ra.PostPublicly = &public
		if public {
			response = join(response, texts.PublicChosen(*user.GithubUsername))
		} else {
			response = join(response, texts.PrivateChosen())
		}
	}
	if ra.PostPublicly == nil {
		return join(response, texts.PrivateOrPublic()), nil
	}

	// re-attestation re-enters the flow at the identity proof
	if command == "again" {
		return join(response, texts.ProveUsername(o.loginURL(user.UniqueID))), nil
	}

	// (5) inline ownership proof
	if envelope, ok := proof.ExtractEnvelope(text); ok {
		reply, err := o.proofs.Handle(ctx, ra, envelope)
		if err != nil {
			return "", err
		}
		return join(response, reply), nil
	}

	// (6) latest transaction outcome
	challenge := *user.GithubUsername + " " + *user.UserAddress
	status, err := o.store.LatestPaymentStatus(ra.ReceivingAddress)
	if err != nil {
		return "", err
	}
	switch {
	case status == nil:
		return join(response, texts.PleasePayOrPrivacy(ra.ReceivingAddress, ra.PriceInBytes,
			*user.UserAddress, challenge, ra.PostPublicly, o.cfg.AllowProofByPayment)), nil
	case !status.IsConfirmed:
		return join(response, texts.ReceivedYourPayment(status.ReceivedAmount)), nil
	case command == "private" || command == "public":
		return response, nil
	case status.AttestationDate == nil:
		return join(response, texts.PaymentIsConfirmed()), nil
	default:
		return join(response, texts.AlreadyAttested(status.AttestationDate.UTC().Format("2006-01-02 15:04:05"))), nil
	}
}

func (o *Orchestrator) chooseIdentity(user *db.User, username string) (string, error) {
	options, err := o.store.IdentityOptions(user.DeviceAddress)
	if err != nil {
		return "", err
	}
	if len(options) < 2 {
		return "There are no identity options to choose from.", nil
	}
	option, err := o.store.IdentityOptionByUsername(user.DeviceAddress, username)
	if err != nil {
		return "", err
	}
	if option == nil {
		return fmt.Sprintf("Unknown username %s.", username), nil
	}
	if err := o.store.SetUserIdentity(user.DeviceAddress, option.GithubID, option.GithubUsername); err != nil {
		return "", err
	}
	user.GithubID = &option.GithubID
	user.GithubUsername = &option.GithubUsername
	return "", nil
}

// readOrAssignReceivingAddress returns the receiving address for the user's
// current (address, identity) triple, issuing one on first need. The
// per-device lock keeps concurrent messages from issuing two addresses for
// the same triple; an assigned address is never replaced.
func (o *Orchestrator) readOrAssignReceivingAddress(ctx context.Context, user *db.User) (*db.ReceivingAddress, error) {
	unlock := o.locks.Lock("device-" + user.DeviceAddress)
	defer unlock()

	ra, err := o.store.FindReceivingAddress(user.DeviceAddress, *user.UserAddress, *user.GithubID)
	if err != nil {
		return nil, err
	}
	if ra != nil {
		return ra, nil
	}

	address, err := o.ledger.IssueNextAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to issue receiving address: %w", err)
	}
	ra = &db.ReceivingAddress{
		DeviceAddress:    user.DeviceAddress,
		UserAddress:      *user.UserAddress,
		GithubID:         *user.GithubID,
		GithubUsername:   *user.GithubUsername,
		ReceivingAddress: address,
		PriceInBytes:     o.cfg.PriceInBytes,
		LastPriceDate:    time.Now().UTC(),
	}
	if err := o.store.CreateReceivingAddress(ra); err != nil {
		return nil, err
	}
	return ra, nil
}

// IdentityObtained builds the chat message sent right after the OAuth round
// trip stored a fresh identity.
func (o *Orchestrator) IdentityObtained(ctx context.Context, deviceAddress string) (string, error) {
	user, err := o.store.GetOrCreateUser(deviceAddress)
	if err != nil {
		return "", err
	}
	if user.UserAddress == nil {
		return texts.InsertMyAddress(), nil
	}
	if user.GithubID == nil || user.GithubUsername == nil {
		return texts.ProveUsername(o.loginURL(user.UniqueID)), nil
	}

	response := fmt.Sprintf("Your GitHub username is %s.", *user.GithubUsername)

	options, err := o.store.IdentityOptions(deviceAddress)
	if err != nil {
		return "", err
	}
	if len(options) > 1 {
		var others []string
		for _, option := range options {
			if option.GithubUsername != *user.GithubUsername {
				others = append(others, option.GithubUsername)
			}
		}
		response = join(response, texts.OtherOptions(others))
	}

	ra, err := o.readOrAssignReceivingAddress(ctx, user)
	if err != nil {
		return "", err
	}
	if ra.PostPublicly == nil {
		return join(response, texts.PrivateOrPublic()), nil
	}

	challenge := *user.GithubUsername + " " + *user.UserAddress
	response = join(response, texts.PleasePay(ra.ReceivingAddress, ra.PriceInBytes,
		*user.UserAddress, challenge, o.cfg.AllowProofByPayment))
	if *ra.PostPublicly {
		response = join(response, texts.PublicChosen(*user.GithubUsername))
	} else {
		response = join(response, texts.PrivateChosen())
	}
	return response, nil
}
