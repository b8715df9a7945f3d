package security

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyLimit is the YAML form of a rate limit.
type PolicyLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Policy is the declarative security configuration: everything the gates
// need arrives here, nothing is hardcoded.
//
//	allowed_roots:
//	  - /home/agent/workspaces
//	deny_patterns:
//	  - 'rm\s+-rf\s+/'
//	rate_limits:
//	  command.execute: {requests: 10, window: 1m}
//	token:
//	  issuer: agentwire
type Policy struct {
	AllowedRoots []string               `yaml:"allowed_roots"`
	DenyPatterns []string               `yaml:"deny_patterns"`
	RateLimits   map[string]PolicyLimit `yaml:"rate_limits"`
	Token        struct {
		Issuer string `yaml:"issuer"`
	} `yaml:"token"`
}

// LoadPolicy reads and parses a YAML policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	return &p, nil
}

// Guard builds the directory guard from the policy.
func (p *Policy) Guard() (*DirectoryGuard, error) {
	return NewDirectoryGuard(p.AllowedRoots)
}

// Validator builds the content validator from the policy. An empty
// deny-list uses the defaults.
func (p *Policy) Validator() (*ContentValidator, error) {
	return NewContentValidator(p.DenyPatterns)
}

// Limiter builds the rate limiter from the policy.
func (p *Policy) Limiter() *RateLimiter {
	limits := make(map[string]Limit, len(p.RateLimits))
	for action, l := range p.RateLimits {
		limits[action] = Limit{Requests: l.Requests, Window: l.Window}
	}
	return NewRateLimiter(limits)
}
