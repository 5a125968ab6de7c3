package session

import "net/url"

// PageKey normalizes a page address to scheme + host + path, stripping the
// port, query string and fragment. Two URLs differing only in query/fragment
// map to the same key. A string that fails to parse as an absolute URL is
// used verbatim as its own key rather than failing the caller.
func PageKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return raw
	}
	return u.Scheme + "://" + u.Hostname() + u.Path
}
