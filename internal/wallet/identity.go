package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/gagliardetto/solana-go"

	"stealthdca/internal/config"
)

var ErrDiscarded = errors.New("identity key already discarded")

// Identity is a keypair whose secret half lives in a locked, guarded buffer.
type Identity struct {
	pub        solana.PublicKey
	disposable bool

	mu  sync.Mutex
	key *memguard.LockedBuffer
}

// NewIdentity takes ownership of pk and wipes the caller's copy.
func NewIdentity(pk solana.PrivateKey, disposable bool) (*Identity, error) {
	if len(pk) != 64 {
		return nil, fmt.Errorf("invalid private key length %d", len(pk))
	}
	pub := pk.PublicKey()
	return &Identity{
		pub:        pub,
		disposable: disposable,
		key:        memguard.NewBufferFromBytes(pk),
	}, nil
}

// LoadFunder reads a Solana keygen JSON file.
func LoadFunder(path string) (*Identity, error) {
	path = config.ExpandHome(strings.TrimSpace(path))
	if path == "" {
		return nil, errors.New("wallet path required")
	}
	pk, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", path, err)
	}
	return NewIdentity(pk, false)
}

func (id *Identity) PublicKey() solana.PublicKey {
	return id.pub
}

func (id *Identity) Address() string {
	return id.pub.String()
}

func (id *Identity) Disposable() bool {
	return id.disposable
}

func (id *Identity) Alive() bool {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.key != nil && id.key.IsAlive()
}

// Sign adds this identity's signature to every signer slot it owns.
func (id *Identity) Sign(tx *solana.Transaction) error {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.key == nil || !id.key.IsAlive() {
		return ErrDiscarded
	}
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if !pub.Equals(id.pub) {
			return nil
		}
		pk := solana.PrivateKey(id.key.Bytes())
		return &pk
	})
	return err
}

// Discard destroys the secret key. Safe to call more than once.
func (id *Identity) Discard() {
	if id == nil {
		return
	}
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.key != nil {
		id.key.Destroy()
	}
}

func (id *Identity) writeKeygenFile(path string) error {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.key == nil || !id.key.IsAlive() {
		return ErrDiscarded
	}
	raw := id.key.Bytes()
	ints := make([]int, len(raw))
	for i, v := range raw {
		ints[i] = int(v)
	}
	b, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
