package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestPasswordPolicy(t *testing.T) {
	p := DefaultPasswordPolicy()
	cases := map[string]bool{
		"Passw0rd!":              true,
		"abcdefg1":               true,
		"abcdefg!":               true,
		"abc1":                   false,
		"abcdefgh":               false,
		"12345678":               false,
		strings.Repeat("a1", 40): false,
	}
	for pw, ok := range cases {
		err := p.Check(pw)
		if ok && err != nil {
			t.Errorf("%q rejected: %v", pw, err)
		}
		if !ok {
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Fields["password"] == "" {
				t.Errorf("%q accepted or wrong error: %v", pw, err)
			}
		}
	}
}

func TestHasher(t *testing.T) {
	h, err := NewHasher(4)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := h.Hash("Passw0rd!")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "Passw0rd!" {
		t.Fatal("hash is plaintext")
	}
	if !h.Verify(&hash, "Passw0rd!") {
		t.Fatal("verify failed")
	}
	if h.Verify(&hash, "Passw0rd?") {
		t.Fatal("wrong password verified")
	}
	if h.Verify(nil, "Passw0rd!") {
		t.Fatal("nil hash verified")
	}
	if _, err := h.Hash(""); err == nil {
		t.Fatal("empty password hashed")
	}
}
