// Package name implements hierarchical names for the named-data substrate
// zephyrroute routes over. A name is an ordered list of components; its URI
// form is /comp1/comp2/... with reserved bytes percent-escaped.
package name

import (
	"errors"
	"fmt"
	"strings"
)

// Name is an immutable hierarchical name. The zero value is the root name "/".
type Name struct {
	comps []string
}

var ErrMalformed = errors.New("name: malformed name")

// Parse parses a URI-form name such as "/campus/router-a". A leading slash is
// required; "/" parses to the empty (root) name.
func Parse(s string) (Name, error) {
	if s == "" || s[0] != '/' {
		return Name{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if s == "/" {
		return Name{}, nil
	}
	parts := strings.Split(s[1:], "/")
	comps := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return Name{}, fmt.Errorf("%w: empty component in %q", ErrMalformed, s)
		}
		c, err := unescape(p)
		if err != nil {
			return Name{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
		}
		comps = append(comps, c)
	}
	return Name{comps: comps}, nil
}

// MustParse is Parse for statically known names; it panics on error.
func MustParse(s string) Name {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// String returns the URI form of the name.
func (n Name) String() string {
	if len(n.comps) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, c := range n.comps {
		b.WriteByte('/')
		b.WriteString(escape(c))
	}
	return b.String()
}

// Len returns the number of components.
func (n Name) Len() int { return len(n.comps) }

// At returns the component at index i. Negative indices count from the end,
// so At(-1) is the last component. Out-of-range indices return "".
func (n Name) At(i int) string {
	if i < 0 {
		i += len(n.comps)
	}
	if i < 0 || i >= len(n.comps) {
		return ""
	}
	return n.comps[i]
}

// Prefix returns the first i components, or, for negative i, the name with
// the last -i components removed. Out-of-range i yields the root name.
func (n Name) Prefix(i int) Name {
	if i < 0 {
		i += len(n.comps)
	}
	if i <= 0 {
		return Name{}
	}
	if i > len(n.comps) {
		i = len(n.comps)
	}
	return Name{comps: n.comps[:i:i]}
}

// Append returns a new name with the given components appended.
func (n Name) Append(comps ...string) Name {
	out := make([]string, 0, len(n.comps)+len(comps))
	out = append(out, n.comps...)
	out = append(out, comps...)
	return Name{comps: out}
}

// AppendVersion appends a version component derived from v.
func (n Name) AppendVersion(v uint64) Name {
	return n.Append(fmt.Sprintf("v=%d", v))
}

// Equal reports whether two names have identical components.
func (n Name) Equal(o Name) bool {
	if len(n.comps) != len(o.comps) {
		return false
	}
	for i, c := range n.comps {
		if o.comps[i] != c {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether n is a (possibly equal) prefix of o.
func (n Name) IsPrefixOf(o Name) bool {
	if len(n.comps) > len(o.comps) {
		return false
	}
	for i, c := range n.comps {
		if o.comps[i] != c {
			return false
		}
	}
	return true
}

// Encoded packs the whole name into a single component, escaping the
// component separator. A router identity travels inside probe names this
// way, as one opaque trailing component.
func (n Name) Encoded() string {
	return n.String()
}

// Decode reverses Encoded: it parses a single component produced by
// Encoded back into a name.
func Decode(comp string) (Name, error) {
	return Parse(comp)
}

const unreserved = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-._~="

func escape(c string) string {
	var b strings.Builder
	for i := 0; i < len(c); i++ {
		ch := c[i]
		if strings.IndexByte(unreserved, ch) >= 0 {
			b.WriteByte(ch)
		} else {
			fmt.Fprintf(&b, "%%%02X", ch)
		}
	}
	return b.String()
}

func unescape(c string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(c); i++ {
		if c[i] != '%' {
			b.WriteByte(c[i])
			continue
		}
		if i+2 >= len(c) {
			return "", errors.New("truncated escape")
		}
		hi, ok1 := hexVal(c[i+1])
		lo, ok2 := hexVal(c[i+2])
		if !ok1 || !ok2 {
			return "", errors.New("invalid escape")
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func hexVal(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}
