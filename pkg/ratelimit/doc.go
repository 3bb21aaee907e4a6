// Package ratelimit paces calls to the remote registry.
//
// A Policy is consulted around every request: FixedDelay sleeps a constant
// interval after each call (the registry's informal courtesy delay), Ceiling
// caps the request rate with golang.org/x/time/rate, and Chain combines
// both. FromConfig assembles the policy from the rate_limit config section.
package ratelimit
