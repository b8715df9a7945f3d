package wire

import (
	"errors"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	addrs := []Address{
		AgentAddress("mac-studio", "session-1"),
		AgentAddress("m1", "s"),
		ProjectAddress("build-host", "agentwire"),
		BroadcastAddress(),
	}
	for _, a := range addrs {
		parsed, err := ParseAddress(a.String())
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", a.String(), err)
		}
		if parsed != a {
			t.Fatalf("round trip mismatch: %+v != %+v", parsed, a)
		}
	}
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	inputs := []string{
		"",
		"agent",
		"agent://",
		"agent://machine",
		"agent://machine/",
		"agent:///session",
		"agent://machine/session/extra",
		"project://machine",
		"broadcast://extra",
		"mailto://machine/session",
		"http://example.com/x",
		"agent:/machine/session",
	}
	for _, in := range inputs {
		_, err := ParseAddress(in)
		if err == nil {
			t.Fatalf("ParseAddress(%q): expected error", in)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("ParseAddress(%q): expected *ParseError, got %T", in, err)
		}
	}
}

func TestAddressString(t *testing.T) {
	cases := []struct {
		addr Address
		want string
	}{
		{AgentAddress("m", "s"), "agent://m/s"},
		{ProjectAddress("m", "p"), "project://m/p"},
		{BroadcastAddress(), "broadcast://"},
	}
	for _, c := range cases {
		if got := c.addr.String(); got != c.want {
			t.Fatalf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestAddressValid(t *testing.T) {
	if !AgentAddress("m", "s").Valid() {
		t.Fatal("agent address should be valid")
	}
	if (Address{Type: TargetAgent, MachineID: "m"}).Valid() {
		t.Fatal("agent address without session should be invalid")
	}
	if (Address{Type: TargetBroadcast, MachineID: "m"}).Valid() {
		t.Fatal("broadcast address with machine should be invalid")
	}
	if (Address{}).Valid() {
		t.Fatal("zero address should be invalid")
	}
}
