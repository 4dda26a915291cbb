package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		MemoryKB:    8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	encoded, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=") {
		t.Fatalf("unexpected PHC prefix: %q", encoded)
	}

	ok, err := h.Verify("correct-horse-battery", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v", ok, err)
	}

	ok, err = h.Verify("wrong-password-value", encoded)
	if err != nil {
		t.Fatalf("Verify(wrong): %v", err)
	}
	if ok {
		t.Fatal("wrong password verified")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h, _ := NewHasher(testConfig())
	if _, err := h.Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("err = %v, want ErrTooShort", err)
	}
}

func TestHashSaltsAreUnique(t *testing.T) {
	h, _ := NewHasher(testConfig())
	a, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	h, _ := NewHasher(testConfig())
	for _, encoded := range []string{
		"",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
	} {
		if _, err := h.Verify("whatever-password", encoded); err == nil {
			t.Fatalf("Verify accepted malformed input %q", encoded)
		}
	}
}

func TestNeedsRehashAfterCostIncrease(t *testing.T) {
	weak, _ := NewHasher(testConfig())
	encoded, err := weak.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	strongCfg := testConfig()
	strongCfg.MemoryKB = 16 * 1024
	strong, _ := NewHasher(strongCfg)

	up, err := strong.NeedsRehash(encoded)
	if err != nil {
		t.Fatalf("NeedsRehash: %v", err)
	}
	if !up {
		t.Fatal("expected rehash after memory increase")
	}

	up, err = weak.NeedsRehash(encoded)
	if err != nil {
		t.Fatalf("NeedsRehash: %v", err)
	}
	if up {
		t.Fatal("same-cost hash flagged for rehash")
	}
}
