// internal/attestation/payload.go
package attestation

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the attestation message posted to the ledger. For a public
// attestation the profile carries the plain username and id; for a private
// one it carries only profile_hash and user_id.
type Payload struct {
	Address string            `json:"address"`
	Profile map[string]string `json:"profile"`
}

// SrcProfile maps each profile field to its [value, blinding] pair. It is
// handed to the user for later selective disclosure and never stored on our
// side.
type SrcProfile map[string][2]string

// hashBase64 is the deterministic object hash used on the ledger:
// base64(sha256(json)). encoding/json sorts map keys, which keeps it stable.
func hashBase64(value interface{}) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to hash object: %w", err)
	}
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// userID derives a stable, non-reversible identifier from the GitHub id and
// the deployment salt.
func userID(githubID, salt string) (string, error) {
	short := map[string]string{"github_id": githubID}
	return hashBase64([]interface{}{short, salt})
}

func generateBlinding() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate blinding: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// BuildPayload constructs the attestation payload for an address/identity
// pair. When public is false every profile field is individually blinded and
// the src profile material is returned for the out-of-band handoff.
func BuildPayload(userAddress, githubID, githubUsername, salt string, public bool) (*Payload, SrcProfile, error) {
	profile := map[string]string{
		"github_username": strings.ToLower(githubUsername),
		"github_id":       githubID,
	}

	uid, err := userID(githubID, salt)
	if err != nil {
		return nil, nil, err
	}

	if public {
		profile["user_id"] = uid
		return &Payload{Address: userAddress, Profile: profile}, nil, nil
	}

	hidden := make(map[string]string, len(profile))
	src := make(SrcProfile, len(profile))
	for field, value := range profile {
		blinding, err := generateBlinding()
		if err != nil {
			return nil, nil, err
		}
		hiddenValue, err := hashBase64([]string{value, blinding})
		if err != nil {
			return nil, nil, err
		}
		hidden[field] = hiddenValue
		src[field] = [2]string{value, blinding}
	}

	profileHash, err := hashBase64(hidden)
	if err != nil {
		return nil, nil, err
	}
	publicProfile := map[string]string{
		"profile_hash": profileHash,
		"user_id":      uid,
	}
	return &Payload{Address: userAddress, Profile: publicProfile}, src, nil
}

// privateProfile is the redeemable blob the user saves in their wallet.
type privateProfile struct {
	Unit        string     `json:"unit"`
	PayloadHash string     `json:"payload_hash"`
	SrcProfile  SrcProfile `json:"src_profile"`
}

// EncodePrivateProfile packs the posted unit, payload hash and src profile
// into the base64 blob the wallet understands.
func EncodePrivateProfile(unit string, payload *Payload, src SrcProfile) (string, error) {
	payloadHash, err := hashBase64(payload)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(privateProfile{
		Unit:        unit,
		PayloadHash: payloadHash,
		SrcProfile:  src,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode private profile: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
