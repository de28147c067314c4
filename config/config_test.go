package config

import (
	"flag"
	"testing"
)

func TestDefaultConfigIsUsable(t *testing.T) {
	c := Default()
	if c.DataDir == "" || c.TorSocksAddr == "" || c.CircuitHops < 2 {
		t.Fatalf("expected sane defaults, got %+v", c)
	}
}

func TestRegisterFlagsOverridesDefaults(t *testing.T) {
	c := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, &c)

	if err := fs.Parse([]string{"-circuit-hops=5", "-disable-clearnet=true"}); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if c.CircuitHops != 5 {
		t.Fatalf("expected circuit hops overridden to 5, got %d", c.CircuitHops)
	}
	if !c.DisableClearnet {
		t.Fatalf("expected disable-clearnet flag to be applied")
	}
}
