package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/drblury/botflow/internal/runtime/backoff"
)

// RetryLimit is the max_retries value: a non-negative integer or
// "unbounded". A null or -1 value also means unbounded.
type RetryLimit struct {
	n   int
	set bool
}

// Retries returns a bounded limit.
func Retries(n int) RetryLimit { return RetryLimit{n: n, set: true} }

// UnboundedRetries returns a limit that never gives up.
func UnboundedRetries() RetryLimit { return RetryLimit{n: backoff.Unbounded, set: true} }

// Int returns the limit in backoff.Policy form. An unset limit is unbounded.
func (l RetryLimit) Int() int {
	if !l.set {
		return backoff.Unbounded
	}
	return l.n
}

// IsSet reports whether the value came from configuration.
func (l RetryLimit) IsSet() bool { return l.set }

func (l RetryLimit) String() string {
	if l.Int() < 0 {
		return "unbounded"
	}
	return strconv.Itoa(l.n)
}

func (l *RetryLimit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("max_retries: expected integer or \"unbounded\" at line %d", node.Line)
	}
	if node.Tag == "!!null" {
		*l = UnboundedRetries()
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "unbounded", "infinite", "unlimited", "":
		*l = UnboundedRetries()
		return nil
	}
	n, err := strconv.Atoi(node.Value)
	if err != nil {
		return fmt.Errorf("max_retries: expected integer or \"unbounded\" at line %d, got %q", node.Line, node.Value)
	}
	if n == backoff.Unbounded {
		*l = UnboundedRetries()
		return nil
	}
	*l = RetryLimit{n: n, set: true}
	return nil
}

func (l RetryLimit) MarshalYAML() (any, error) {
	if l.Int() < 0 {
		return "unbounded", nil
	}
	return l.n, nil
}
