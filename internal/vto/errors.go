package vto

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies every failure the try-on core can report.
type Kind string

const (
	KindVariantNotFound     Kind = "variant_not_found"
	KindAmbiguousVariant    Kind = "ambiguous_variant"
	KindNoFramesFound       Kind = "no_frames_found"
	KindTimeout             Kind = "timeout"
	KindRenderRequestFailed Kind = "render_request_failed"
	KindServiceUnavailable  Kind = "service_unavailable"
	KindUserNotLoggedIn     Kind = "user_not_logged_in"
)

// Error is the single error type returned by the core. Only the fields that
// make sense for a given Kind are populated.
type Error struct {
	Kind      Kind
	SKU       string
	VariantID int64
	Status    int // HTTP status of a failed render request
	Matches   int // number of catalog documents for an ambiguous sku
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.SKU != "" {
		fmt.Fprintf(&b, " sku=%s", e.SKU)
	}
	if e.VariantID != 0 {
		fmt.Fprintf(&b, " variant_id=%d", e.VariantID)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Matches != 0 {
		fmt.Fprintf(&b, " matches=%d", e.Matches)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrTimeout) works
// regardless of the context fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrVariantNotFound     = &Error{Kind: KindVariantNotFound}
	ErrAmbiguousVariant    = &Error{Kind: KindAmbiguousVariant}
	ErrNoFramesFound       = &Error{Kind: KindNoFramesFound}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrRenderRequestFailed = &Error{Kind: KindRenderRequestFailed}
	ErrServiceUnavailable  = &Error{Kind: KindServiceUnavailable}
	ErrUserNotLoggedIn     = &Error{Kind: KindUserNotLoggedIn}
)

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether asking again later can reasonably succeed.
// Catalog integrity problems and client-side render rejections are permanent.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindServiceUnavailable, KindNoFramesFound:
		return true
	default:
		return false
	}
}

func NotFound(sku string) error {
	return &Error{Kind: KindVariantNotFound, SKU: sku}
}

func Ambiguous(sku string, matches int) error {
	return &Error{Kind: KindAmbiguousVariant, SKU: sku, Matches: matches}
}

func NoFrames(sku string) error {
	return &Error{Kind: KindNoFramesFound, SKU: sku}
}

func NotLoggedIn() error {
	return &Error{Kind: KindUserNotLoggedIn}
}
