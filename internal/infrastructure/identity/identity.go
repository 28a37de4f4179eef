// Package identity persists this node's libp2p keypair across restarts,
// so its peer ID is stable instead of being re-rolled on every daemon
// start (which would otherwise invalidate bootstrap peer lists and
// certificate pins keyed by peer ID).
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// KeyPair holds a node's libp2p identity key and derived peer ID.
type KeyPair struct {
	PrivateKey crypto.PrivKey
	PublicKey  crypto.PubKey
	PeerID     peer.ID
}

type storedKey struct {
	Type       string `json:"type"`
	PrivateKey string `json:"private_key"`
	PeerID     string `json:"peer_id"`
}

// Generate creates a fresh Ed25519 identity.
func Generate() (*KeyPair, error) {
	privKey, pubKey, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}

	peerID, err := peer.IDFromPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}

	return &KeyPair{PrivateKey: privKey, PublicKey: pubKey, PeerID: peerID}, nil
}

// Save writes kp to path with owner-only permissions, creating parent
// directories as needed.
func Save(kp *KeyPair, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}

	privBytes, err := crypto.MarshalPrivateKey(kp.PrivateKey)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}

	stored := storedKey{
		Type:       "Ed25519",
		PrivateKey: base64.StdEncoding.EncodeToString(privBytes),
		PeerID:     kp.PeerID.String(),
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity file: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Load reads a keypair from path, rejecting files with permissions or
// ownership looser than owner-only.
func Load(path string) (*KeyPair, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat identity file: %w", err)
	}

	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return nil, fmt.Errorf("insecure identity file permissions: %o (want 0600 or stricter)", mode)
	}
	if err := validateFileOwnership(info); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	var stored storedKey
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}

	privBytes, err := base64.StdEncoding.DecodeString(stored.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	privKey, err := crypto.UnmarshalPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshal private key: %w", err)
	}

	pubKey := privKey.GetPublic()
	peerID, err := peer.IDFromPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}

	return &KeyPair{PrivateKey: privKey, PublicKey: pubKey, PeerID: peerID}, nil
}

// LoadOrCreate loads the identity at path, generating and persisting a
// new one if none exists yet.
func LoadOrCreate(path string) (*KeyPair, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := Save(kp, path); err != nil {
		return nil, fmt.Errorf("persist new identity: %w", err)
	}
	return kp, nil
}

// DefaultPath returns the identity file path under dataDir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "identity.json")
}
