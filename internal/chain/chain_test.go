package chain

import (
	"encoding/hex"
	"encoding/json"
	"testing"
)

func TestKeccak256_KnownVectors(t *testing.T) {
	// keccak256("") and keccak256("abc")
	cases := map[string]string{
		"":    "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		"abc": "4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45",
	}
	for in, want := range cases {
		got := hex.EncodeToString(Keccak256([]byte(in)))
		if got != want {
			t.Errorf("Keccak256(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestKeccak256_ConcatenatesInputs(t *testing.T) {
	a := Keccak256([]byte("ab"), []byte("c"))
	b := Keccak256([]byte("abc"))
	if hex.EncodeToString(a) != hex.EncodeToString(b) {
		t.Fatal("multi-part hash should equal hash of concatenation")
	}
}

func TestPersonalSignHash_UsesPrefix(t *testing.T) {
	inner := make([]byte, 32)
	want := Keccak256(append([]byte("\x19Ethereum Signed Message:\n32"), inner...))
	if hex.EncodeToString(PersonalSignHash(inner)) != hex.EncodeToString(want) {
		t.Fatal("prefixed hash mismatch")
	}
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("0x00000000000000000000000000000000000000Ff")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if a[19] != 0xff {
		t.Fatalf("last byte = %x, want ff", a[19])
	}
	if a.Hex() != "0x00000000000000000000000000000000000000ff" {
		t.Fatalf("Hex() = %s", a.Hex())
	}

	for _, bad := range []string{"", "0x1234", "0xzz000000000000000000000000000000000000ff"} {
		if _, err := ParseAddress(bad); err == nil {
			t.Errorf("ParseAddress(%q) should fail", bad)
		}
	}
}

func TestBytesToAddress_TakesLastTwentyBytes(t *testing.T) {
	word := make([]byte, 32)
	word[12] = 0xaa
	word[31] = 0xbb
	a := BytesToAddress(word)
	if a[0] != 0xaa || a[19] != 0xbb {
		t.Fatalf("unexpected address %s", a.Hex())
	}
}

func TestAddress_JSONRoundTrip(t *testing.T) {
	a := MustParseAddress("0x1111111111111111111111111111111111111111")
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Address
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != a {
		t.Fatalf("round trip = %s, want %s", back, a)
	}
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(1000)
	c.Advance(1)
	if c.Now() != 1001 {
		t.Fatalf("Now() = %d, want 1001", c.Now())
	}
	c.Set(5)
	if c.Now() != 5 {
		t.Fatalf("Now() = %d, want 5", c.Now())
	}
}
