// internal/obyte/types.go
package obyte

import (
	"encoding/json"
	"regexp"
)

// Output is one payment output observed on the ledger, as delivered by the
// wallet sidecar. An empty Asset means the base asset (bytes).
type Output struct {
	Unit    string `json:"unit"`
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
}

// Events is a batch of ledger activity since the previous poll cursor.
type Events struct {
	Outputs     []Output `json:"outputs"`
	StableUnits []string `json:"stable_units"`
	Cursor      string   `json:"cursor"`
}

// Balance of a single address in the base asset.
type Balance struct {
	Stable  int64 `json:"stable"`
	Pending int64 `json:"pending"`
}

func (b Balance) Total() int64 {
	return b.Stable + b.Pending
}

// Message is one application message inside a unit, mirroring the ledger's
// wire shape ({app, payload}).
type Message struct {
	App     string      `json:"app"`
	Payload interface{} `json:"payload"`
}

// PaymentOutput is one output of a composed unit.
type PaymentOutput struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// PostRequest asks the wallet to compose, sign and broadcast a unit.
type PostRequest struct {
	PayingAddresses []string        `json:"paying_addresses"`
	Outputs         []PaymentOutput `json:"outputs"`
	Messages        []Message       `json:"messages"`
}

// SignedMessageAuthor is one signer of a signed-message envelope.
type SignedMessageAuthor struct {
	Address string `json:"address"`
}

// SignedMessage is the envelope a wallet produces for a sign-message
// request. Authentifiers stay opaque; the sidecar validates them.
type SignedMessage struct {
	SignedMessage string                `json:"signed_message"`
	Authors       []SignedMessageAuthor `json:"authors"`
	Version       string                `json:"version,omitempty"`

	raw json.RawMessage
}

// Raw returns the exact envelope bytes as received, preserved for storage.
func (m *SignedMessage) Raw() []byte {
	return m.raw
}

func ParseSignedMessage(data []byte) (*SignedMessage, error) {
	var m SignedMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m.raw = append(json.RawMessage(nil), data...)
	return &m, nil
}

var addressRe = regexp.MustCompile("^[2-7A-Z]{32}$")

// IsValidAddress checks the shape of an Obyte address (32 chars of base32).
// Checksum verification is left to the wallet sidecar.
func IsValidAddress(address string) bool {
	return addressRe.MatchString(address)
}
