package auth

import "testing"

func TestOpenModeAcceptsAnything(t *testing.T) {
	a := New("", "")
	if a.Enabled() {
		t.Fatal("no secret configured means open mode")
	}
	if !a.Verify("") || !a.Verify("whatever") {
		t.Fatal("open mode must accept any presented key")
	}
}

func TestPlaintextKey(t *testing.T) {
	a := New("s3cret", "")
	if !a.Enabled() {
		t.Fatal("expected enabled")
	}
	if !a.Verify("s3cret") {
		t.Fatal("correct key rejected")
	}
	if a.Verify("wrong") || a.Verify("") {
		t.Fatal("wrong or missing key accepted")
	}
}

func TestBcryptHash(t *testing.T) {
	hash, err := HashKey("s3cret")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	a := New("", hash)
	if !a.Verify("s3cret") {
		t.Fatal("correct key rejected against hash")
	}
	if a.Verify("wrong") {
		t.Fatal("wrong key accepted against hash")
	}
}

func TestHashWinsOverPlaintext(t *testing.T) {
	hash, _ := HashKey("hashed")
	a := New("plain", hash)
	if !a.Verify("hashed") {
		t.Fatal("hash should be authoritative")
	}
	if a.Verify("plain") {
		t.Fatal("plaintext must be ignored when a hash is configured")
	}
}

func TestHotReload(t *testing.T) {
	a := New("old", "")
	a.SetKey("new")
	if a.Verify("old") {
		t.Fatal("old key still accepted")
	}
	if !a.Verify("new") {
		t.Fatal("new key rejected")
	}
}
