package safelog

import "testing"

func TestMaskPeerID(t *testing.T) {
	got := MaskPeerID("abcdefghijklmnop")
	want := "abcd...mnop"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestMaskPeerIDShortUnchanged(t *testing.T) {
	short := "abcd1234"
	if MaskPeerID(short) != short {
		t.Fatalf("expected short id unchanged, got %q", MaskPeerID(short))
	}
}

func TestMaskHostLeavesLoopbackAndRFC1918Intact(t *testing.T) {
	cases := []string{"127.0.0.1", "192.168.1.5", "10.0.0.1", "localhost"}
	for _, c := range cases {
		if MaskHost(c) != c {
			t.Fatalf("expected %q left intact, got %q", c, MaskHost(c))
		}
	}
}

func TestMaskHostMasksPublicIP(t *testing.T) {
	masked := MaskHost("203.0.113.42")
	if masked == "203.0.113.42" {
		t.Fatalf("expected public IP to be masked")
	}
}

func TestMaskHostMasksDomain(t *testing.T) {
	masked := MaskHost("attacker.example.com")
	if masked == "attacker.example.com" {
		t.Fatalf("expected domain to be masked")
	}
}
