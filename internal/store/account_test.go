package store

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sesh-im/sesh-go/internal/identity"
)

func saveTestIdentity(t *testing.T, s *Store) (seed []byte, ed, x identity.KeyPair) {
	t.Helper()
	seed = bytes.Repeat([]byte{0x1f}, identity.SeedSize)
	ed, x, err := identity.Generate(seed)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveIdentity(seed, ed, x); err != nil {
		t.Fatal(err)
	}
	return seed, ed, x
}

func TestSaveIdentityAllRecords(t *testing.T) {
	s := testStore(t)
	seed, ed, x := saveTestIdentity(t, s)

	gotSeed, err := s.GetSeed()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotSeed, seed) {
		t.Errorf("seed = %x, want %x", gotSeed, seed)
	}

	gotX, err := s.GetKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if gotX == nil || !bytes.Equal(gotX.Public, x.Public) || !bytes.Equal(gotX.Private, x.Private) {
		t.Error("x25519 key pair does not round-trip")
	}

	gotEd, err := s.GetEd25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if gotEd == nil || !bytes.Equal(gotEd.Public, ed.Public) || !bytes.Equal(gotEd.Private, ed.Private) {
		t.Error("ed25519 key pair does not round-trip")
	}
}

func TestAccessorsAbsentIdentity(t *testing.T) {
	s := testStore(t)

	pub, err := s.GetPublicKey()
	if err != nil {
		t.Fatal(err)
	}
	if pub != nil {
		t.Error("expected nil public key")
	}

	kp, err := s.GetKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if kp != nil {
		t.Error("expected nil key pair")
	}
}

func TestSessionIDRequiresIdentity(t *testing.T) {
	s := testStore(t)

	if _, err := s.SessionID(); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	_, _, x := saveTestIdentity(t, s)
	id, err := s.SessionID()
	if err != nil {
		t.Fatal(err)
	}
	if id != identity.SessionID(x.Public) {
		t.Errorf("session id = %q", id)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := testStore(t)

	p, err := s.LoadProfile()
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatal("expected nil profile on fresh store")
	}

	want := &Profile{Name: "Alice", PicURL: "https://files.example/abc", PicKey: []byte{1, 2, 3}}
	if err := s.SaveProfile(want); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadProfile()
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != want.Name || got.PicURL != want.PicURL || !bytes.Equal(got.PicKey, want.PicKey) {
		t.Errorf("profile = %+v, want %+v", got, want)
	}
}
