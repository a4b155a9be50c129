package security

import "net/http"

// GetCookie returns the named cookie value or "" when absent. Browser
// dashboard sessions carry the access token in a cookie instead of the
// Authorization header.
func GetCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
