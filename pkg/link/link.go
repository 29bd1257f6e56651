// Package link builds the addresses embedded contexts are loaded from.
package link

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const logPrefix = "link:resolve"

// ClientIDParam is the query parameter carrying the caller identity token.
const ClientIDParam = "clientId"

// Params maps customization keys to primitive values (string, number, bool or nil).
type Params map[string]interface{}

// Resolver joins a fixed base location with per-surface paths and parameters.
// The zero value is unusable; Base must be an absolute URL.
type Resolver struct {
	Base string
}

// NewResolver returns a Resolver for the given base location.
func NewResolver(base string) Resolver {
	return Resolver{Base: base}
}

// Resolve builds the fully-qualified target address. Customization maps are
// applied in argument order so later values override earlier ones for the same
// key, and nil values are kept as empty parameters rather than omitted.
func (r Resolver) Resolve(clientID, path string, params ...Params) (string, error) {
	u, err := url.Parse(r.Base)
	if err != nil {
		return "", fmt.Errorf("%s - invalid base %q: %w", logPrefix, r.Base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s - base %q must be an absolute URL", logPrefix, r.Base)
	}

	u.Path = joinPath(u.Path, path)
	u.RawPath = ""
	u.Fragment = ""

	q := u.Query()
	q.Set(ClientIDParam, clientID)
	for _, p := range params {
		for key, value := range p {
			q.Set(key, formatValue(value))
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Origin returns scheme://host[:port] of an address, or "" when the address
// has no network origin.
func Origin(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func joinPath(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = strings.TrimLeft(path, "/")
	if path == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	return base + "/" + path
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
