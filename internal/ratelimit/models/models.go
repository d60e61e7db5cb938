// Package models holds the rate limiting vocabulary shared by the stores and
// the middleware.
package models

import (
	"net/http"
	"strings"
	"time"
)

// Class groups routes that share a request budget.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// ClassFor maps safe methods to ClassRead and everything else to ClassWrite.
func ClassFor(method string) Class {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	default:
		return ClassWrite
	}
}

// Limit allows Requests per sliding Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"`
}

// RetryAfterSeconds rounds the wait until resetAt up to whole seconds, never
// below one.
func RetryAfterSeconds(now, resetAt time.Time) int {
	wait := resetAt.Sub(now)
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// SanitizeKeySegment escapes ':' so a caller id cannot reach into an
// adjacent bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewCallerKey builds the bucket key for an authenticated caller.
func NewCallerKey(class Class, caller string) string {
	return "rl:" + string(class) + ":caller:" + SanitizeKeySegment(caller)
}

// NewIPKey builds the bucket key for an anonymous client.
func NewIPKey(class Class, ip string) string {
	return "rl:" + string(class) + ":ip:" + SanitizeKeySegment(ip)
}

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}
