package p2p

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/petervdpas/tunetrivia/internal/roomcode"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/hkdf"
)

const hostKeySalt = "tunetrivia room host key v1"

// HostKey derives the private key of the host of room code. Every peer
// derives the same key for the same code, so a guest knows the host's peer
// ID from the code alone.
func HostKey(code string) (crypto.PrivKey, error) {
	r := hkdf.New(sha256.New, []byte(roomcode.HostIdentity(code)), []byte(hostKeySalt), nil)
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive host key: %w", err)
	}
	return crypto.UnmarshalEd25519PrivateKey(ed25519.NewKeyFromSeed(seed))
}

// HostPeerID is the peer ID a room host listens under.
func HostPeerID(code string) (peer.ID, error) {
	sk, err := HostKey(code)
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(sk)
}

// guestKey returns a throwaway key for one guest connection.
func guestKey() (crypto.PrivKey, error) {
	sk, _, err := crypto.GenerateEd25519Key(nil)
	return sk, err
}

// loadOrCreateKey loads the discovery node's identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Warnw("corrupt identity key, generating a new one", "path", keyFile, "err", err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}
