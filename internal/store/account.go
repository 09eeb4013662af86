package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sesh-im/sesh-go/internal/identity"
)

// Identity record variants. All five are written atomically by
// SaveIdentity; readers may assume either all exist or none do.
const (
	VariantSeed           = "seed"
	VariantEd25519Secret  = "ed25519-secret"
	VariantEd25519Public  = "ed25519-public"
	VariantX25519Secret   = "x25519-secret"
	VariantX25519Public   = "x25519-public"
)

// SaveIdentity persists the seed and both derived key pairs as one atomic
// unit. A partially written identity is never observable.
func (s *Store) SaveIdentity(seed []byte, ed, x identity.KeyPair) error {
	return s.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare("INSERT OR REPLACE INTO identity_record (variant, data) VALUES (?, ?)")
		if err != nil {
			return fmt.Errorf("store: prepare: %w", err)
		}
		defer stmt.Close()

		records := []struct {
			variant string
			data    []byte
		}{
			{VariantSeed, seed},
			{VariantEd25519Secret, ed.Private},
			{VariantEd25519Public, ed.Public},
			{VariantX25519Secret, x.Private},
			{VariantX25519Public, x.Public},
		}
		for _, r := range records {
			if _, err := stmt.Exec(r.variant, r.data); err != nil {
				return fmt.Errorf("store: save identity record %q: %w", r.variant, err)
			}
		}
		return nil
	})
}

// identityRecord returns the raw bytes for a variant, or nil if absent.
func (s *Store) identityRecord(variant string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		"SELECT data FROM identity_record WHERE variant = ?", variant,
	).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get identity record %q: %w", variant, err)
	}
	return data, nil
}

// GetSeed returns the stored recovery seed, or nil if no identity exists.
func (s *Store) GetSeed() ([]byte, error) {
	return s.identityRecord(VariantSeed)
}

// GetPublicKey returns the account's X25519 public key (its public
// identifier), or nil if no identity exists.
func (s *Store) GetPublicKey() ([]byte, error) {
	return s.identityRecord(VariantX25519Public)
}

// GetPrivateKey returns the account's X25519 private key, or nil if no
// identity exists.
func (s *Store) GetPrivateKey() ([]byte, error) {
	return s.identityRecord(VariantX25519Secret)
}

// GetKeyPair returns the account's X25519 key pair, or nil if no identity
// exists.
func (s *Store) GetKeyPair() (*identity.KeyPair, error) {
	return s.loadKeyPair(VariantX25519Public, VariantX25519Secret)
}

// GetEd25519KeyPair returns the account's Ed25519 key pair, or nil if no
// identity exists.
func (s *Store) GetEd25519KeyPair() (*identity.KeyPair, error) {
	return s.loadKeyPair(VariantEd25519Public, VariantEd25519Secret)
}

func (s *Store) loadKeyPair(pubVariant, privVariant string) (*identity.KeyPair, error) {
	pub, err := s.identityRecord(pubVariant)
	if err != nil {
		return nil, err
	}
	priv, err := s.identityRecord(privVariant)
	if err != nil {
		return nil, err
	}
	if pub == nil || priv == nil {
		return nil, nil
	}
	return &identity.KeyPair{Public: pub, Private: priv}, nil
}

// SessionID returns the account's public identifier.
// Returns ErrNotFound when no identity has been generated.
func (s *Store) SessionID() (string, error) {
	pub, err := s.GetPublicKey()
	if err != nil {
		return "", err
	}
	if pub == nil {
		return "", ErrNotFound
	}
	return identity.SessionID(pub), nil
}

// Profile is the account's own display profile. An empty PicURL means
// "no avatar".
type Profile struct {
	Name   string `json:"name"`
	PicURL string `json:"picUrl,omitempty"`
	PicKey []byte `json:"picKey,omitempty"`
}

const profileKey = "profile"

// SaveProfile persists the account profile.
func (s *Store) SaveProfile(p *Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: marshal profile: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO profile (key, value) VALUES (?, ?)",
		profileKey, data,
	)
	if err != nil {
		return fmt.Errorf("store: save profile: %w", err)
	}
	return nil
}

// LoadProfile loads the account profile. Returns nil, nil if none is set.
func (s *Store) LoadProfile() (*Profile, error) {
	var data []byte
	err := s.db.QueryRow(
		"SELECT value FROM profile WHERE key = ?", profileKey,
	).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("store: unmarshal profile: %w", err)
	}
	return &p, nil
}
