package security

import (
	"fmt"
	"regexp"
)

// ContentViolation reports a command matching a deny-listed pattern.
type ContentViolation struct {
	Pattern string
}

func (e *ContentViolation) Error() string {
	return fmt.Sprintf("content violation: command matches denied pattern %q", e.Pattern)
}

// DefaultDenyPatterns covers the classic destructive commands. Deployments
// extend or replace the list through the security policy file.
var DefaultDenyPatterns = []string{
	`rm\s+(-[a-zA-Z]+\s+)*-[a-zA-Z]*[rf][a-zA-Z]*\s+/(\s|$|\*)`, // recursive delete at root
	`mkfs(\.[a-z0-9]+)?\s`,                                      // filesystem formatting
	`dd\s+.*of=/dev/(sd|nvme|hd|vd)`,                            // raw disk writes
	`>\s*/dev/(sd|nvme|hd|vd)`,                                  // redirects onto disks
	`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;`,                      // fork bomb
	`shred\s+.*/dev/`,                                           // device shredding
	`wipefs\s`,                                                  // signature wiping
	`chmod\s+(-[a-zA-Z]+\s+)*777\s+/(\s|$)`,                     // opening up the root
}

// ContentValidator rejects command strings matching a deny-list of
// destructive patterns.
type ContentValidator struct {
	patterns []*regexp.Regexp
}

// NewContentValidator compiles the deny-list. An empty list falls back
// to DefaultDenyPatterns.
func NewContentValidator(patterns []string) (*ContentValidator, error) {
	if len(patterns) == 0 {
		patterns = DefaultDenyPatterns
	}
	v := &ContentValidator{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling deny pattern %q: %w", p, err)
		}
		v.patterns = append(v.patterns, re)
	}
	return v, nil
}

// Validate returns a *ContentViolation if the command matches any denied
// pattern, nil otherwise.
func (v *ContentValidator) Validate(command string) error {
	for _, re := range v.patterns {
		if re.MatchString(command) {
			return &ContentViolation{Pattern: re.String()}
		}
	}
	return nil
}
