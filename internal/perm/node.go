package perm

import "strings"

// NoOfflinePermsNode locks a user out of every permission while the engine
// runs under offline-identity policy. It is deliberately excluded from
// wildcard expansion so that a blanket grant cannot hand it out.
const NoOfflinePermsNode = "permgate.noofflineperms"

// GlobalGroupPrefix marks a group name as belonging to the world-independent
// global registry.
const GlobalGroupPrefix = "g:"

// Verdict classifies the outcome of matching one stored access token against
// a requested permission.
type Verdict int

const (
	NotFound Verdict = iota
	Found
	Negation
	Exception
)

func (v Verdict) String() string {
	switch v {
	case Found:
		return "found"
	case Negation:
		return "negation"
	case Exception:
		return "exception"
	default:
		return "notfound"
	}
}

// Granted reports whether the verdict allows the permission.
func (v Verdict) Granted() bool {
	return v == Found || v == Exception
}

// Compare matches a stored access token against a requested permission.
//
// A leading '+' on the stored token makes the verdict Exception, a leading
// '-' makes it Negation, otherwise Found. The stripped token matches on
// case-insensitive equality, as the bare wildcard "*", or as a trailing
// ".*" prefix wildcard. Anything else is NotFound.
func Compare(stored, requested string) Verdict {
	verdict := Found
	switch {
	case strings.HasPrefix(stored, "+"):
		verdict = Exception
		stored = stored[1:]
	case strings.HasPrefix(stored, "-"):
		verdict = Negation
		stored = stored[1:]
	}

	if strings.EqualFold(stored, requested) {
		return verdict
	}
	if stored == "*" {
		// The offline lockout node is never reachable through a blanket
		// wildcard.
		if strings.EqualFold(requested, NoOfflinePermsNode) {
			return NotFound
		}
		return verdict
	}
	if strings.HasSuffix(stored, ".*") {
		// Keep the trailing dot so "chat.*" cannot match "chatter".
		prefix := strings.ToLower(stored[:len(stored)-1])
		if strings.HasPrefix(strings.ToLower(requested), prefix) {
			return verdict
		}
	}
	return NotFound
}

// BareToken strips a single leading '+' or '-' from a token.
func BareToken(token string) string {
	if strings.HasPrefix(token, "+") || strings.HasPrefix(token, "-") {
		return token[1:]
	}
	return token
}

// tokenClass orders tokens by override priority: exceptions before
// negations before plain grants.
func tokenClass(token string) int {
	switch {
	case strings.HasPrefix(token, "+"):
		return 0
	case strings.HasPrefix(token, "-"):
		return 1
	default:
		return 2
	}
}

// lessToken is the canonical stored-token ordering: priority class first,
// alphabetical within a class.
func lessToken(a, b string) bool {
	ca, cb := tokenClass(a), tokenClass(b)
	if ca != cb {
		return ca < cb
	}
	return strings.ToLower(a) < strings.ToLower(b)
}
