// Package authtoken models the Bolt auth token: a map of scheme-tagged
// fields sent in HELLO/LOGON and compared with data-equality semantics
// when deciding whether a connection needs reauth.
package authtoken

import "math"

// Scheme selects the token's field layout.
type Scheme string

const (
	SchemeNone     Scheme = "none"
	SchemeBasic    Scheme = "basic"
	SchemeKerberos Scheme = "kerberos"
	SchemeBearer   Scheme = "bearer"
)

// Token is a map<string,value> whose "scheme" field selects its format.
// Values are held as any of: string, []byte, int64, float64, bool, nil —
// the same value universe PackStream can carry.
type Token map[string]any

// None returns the no-auth token.
func None() Token {
	return Token{"scheme": string(SchemeNone)}
}

// Basic returns a basic-auth token, optionally scoped to a realm.
func Basic(username, password, realm string) Token {
	t := Token{
		"scheme":      string(SchemeBasic),
		"principal":   username,
		"credentials": password,
	}
	if realm != "" {
		t["realm"] = realm
	}
	return t
}

// Kerberos returns a kerberos-auth token carrying a base64 ticket.
func Kerberos(base64Ticket string) Token {
	return Token{
		"scheme":      string(SchemeKerberos),
		"principal":   "",
		"credentials": base64Ticket,
	}
}

// Bearer returns a bearer-auth token.
func Bearer(token string) Token {
	return Token{
		"scheme":      string(SchemeBearer),
		"credentials": token,
	}
}

// Custom returns a token with an arbitrary scheme and caller-chosen fields.
func Custom(scheme string, fields map[string]any) Token {
	t := make(Token, len(fields)+1)
	for k, v := range fields {
		t[k] = v
	}
	t["scheme"] = scheme
	return t
}

// Equal compares two tokens by data-equality: floats compare by bit
// pattern (so NaN == NaN and +0 != -0), everything else by ordinary
// equality, recursively through nested maps and slices.
func Equal(a, b Token) bool {
	if a == nil || b == nil {
		return (a == nil) == (b == nil)
	}
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return false
		}
		return math.Float64bits(av) == math.Float64bits(bv)
	case float32:
		bv, ok := b.(float32)
		if !ok {
			return false
		}
		return math.Float32bits(av) == math.Float32bits(bv)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !valueEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
