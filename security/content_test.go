package security

import (
	"errors"
	"testing"
)

func TestContentValidatorBlocksDestructiveCommands(t *testing.T) {
	v, err := NewContentValidator(nil)
	if err != nil {
		t.Fatal(err)
	}

	denied := []string{
		"rm -rf /",
		"rm -rf / --no-preserve-root",
		"sudo rm -fr /*",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"echo junk > /dev/nvme0n1",
		":(){ :|:& };:",
		"shred -n 3 /dev/sdb",
		"wipefs -a /dev/sda",
	}
	for _, cmd := range denied {
		err := v.Validate(cmd)
		var cv *ContentViolation
		if !errors.As(err, &cv) {
			t.Fatalf("Validate(%q): expected *ContentViolation, got %v", cmd, err)
		}
		if cv.Pattern == "" {
			t.Fatalf("Validate(%q): violation missing pattern", cmd)
		}
	}
}

func TestContentValidatorAllowsNormalCommands(t *testing.T) {
	v, err := NewContentValidator(nil)
	if err != nil {
		t.Fatal(err)
	}

	allowed := []string{
		"ls -la",
		"git status",
		"rm build/output.txt",
		"rm -rf ./node_modules",
		"make test",
		"echo 'rm is a word here'",
	}
	for _, cmd := range allowed {
		if err := v.Validate(cmd); err != nil {
			t.Fatalf("Validate(%q): unexpected violation: %v", cmd, err)
		}
	}
}

func TestContentValidatorCustomPatterns(t *testing.T) {
	v, err := NewContentValidator([]string{`curl\s`})
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Validate("curl http://example.com"); err == nil {
		t.Fatal("custom pattern should match")
	}
	// Custom list replaces the defaults entirely.
	if err := v.Validate("rm -rf /"); err != nil {
		t.Fatalf("defaults should be replaced: %v", err)
	}
}

func TestContentValidatorRejectsBadRegexp(t *testing.T) {
	if _, err := NewContentValidator([]string{"("}); err == nil {
		t.Fatal("expected compile error")
	}
}
