package broker

import "fmt"

// SourceKind is one place a token can come from.
type SourceKind int

const (
	// ConfigSupplied is a token given inline in the configuration.
	ConfigSupplied SourceKind = iota
	// SecretStore is the persisted credential record.
	SecretStore
	// WorkloadIdentity is an ambient exchange granted by the runtime.
	WorkloadIdentity
	// PasswordExchange is the explicit credential exchange of last resort.
	PasswordExchange
	// CallerSupplied is a token handed to ValidateAndRefresh. It is never
	// part of a resolution order.
	CallerSupplied
)

// DefaultOrder is the resolution order. Sources are tried strictly in this
// order and the first one that yields a token wins.
var DefaultOrder = []SourceKind{ConfigSupplied, SecretStore, WorkloadIdentity, PasswordExchange}

func (s SourceKind) String() string {
	switch s {
	case ConfigSupplied:
		return "config"
	case SecretStore:
		return "secret_store"
	case WorkloadIdentity:
		return "workload_identity"
	case PasswordExchange:
		return "password_exchange"
	case CallerSupplied:
		return "caller"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// validated reports whether a candidate from this source may be stale and
// must be probed before use. Exchanged tokens are fresh by construction.
func (s SourceKind) validated() bool {
	return s == ConfigSupplied || s == SecretStore || s == CallerSupplied
}

// ParseSourceKind maps a configured name back to a SourceKind.
func ParseSourceKind(name string) (SourceKind, error) {
	for _, s := range DefaultOrder {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown token source %q", name)
}

// ValidateOrder checks an order override. Sources may be left out, but each
// may appear once and they must keep their DefaultOrder positions.
func ValidateOrder(order []SourceKind) error {
	next := 0
	for _, s := range order {
		pos := -1
		for i, d := range DefaultOrder {
			if d == s {
				pos = i
				break
			}
		}
		switch {
		case pos < 0:
			return fmt.Errorf("unknown token source %s", s)
		case pos < next:
			if pos == next-1 {
				return fmt.Errorf("token source %s listed more than once", s)
			}
			return fmt.Errorf("token source %s is out of order; sources must follow %v", s, DefaultOrder)
		}
		next = pos + 1
	}
	return nil
}
