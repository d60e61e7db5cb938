package testutil

import "net/http"

// WithBearer authenticates req with a caller token.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
