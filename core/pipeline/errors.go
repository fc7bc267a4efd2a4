package pipeline

import (
	"errors"

	"melodex/core/catalog"
	"melodex/core/fetch"
	"melodex/core/match"
	"melodex/core/quota"
)

// ErrTimeout means the caller stopped waiting on in-flight
// production. The background work keeps running and still populates
// the cache for future requests.
var ErrTimeout = errors.New("request timed out")

// Reason maps a pipeline error to a stable user-facing category. No
// raw upstream detail crosses this boundary.
func Reason(err error) string {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return "not_found"
	case errors.Is(err, catalog.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, match.ErrNoMatch):
		return "no_match"
	case errors.Is(err, fetch.ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, fetch.ErrTranscodeFailed):
		return "transcode_failed"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, quota.ErrTierRequired):
		return "tier_required"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal_error"
	}
}

// UserMessage renders a category as a message the transport can show.
func UserMessage(err error) string {
	switch Reason(err) {
	case "not_found":
		return "That track could not be found in the catalog."
	case "upstream_unavailable":
		return "The catalog is temporarily unavailable. Please try again later."
	case "no_match":
		return "No suitable audio source was found for that track."
	case "fetch_failed":
		return "The audio source could not be downloaded. Please try again later."
	case "transcode_failed":
		return "The audio could not be processed. Please try again later."
	case "quota_exceeded":
		return "You have reached your daily download limit. Upgrade to premium for unlimited downloads."
	case "tier_required":
		return "Album and playlist downloads require a premium subscription."
	case "timeout":
		return "The request took too long. The track is still being prepared; please try again in a moment."
	default:
		return "Something went wrong. Please try again later."
	}
}

// Denied reports whether the error is a policy denial rather than a
// processing failure.
func Denied(err error) bool {
	return errors.Is(err, quota.ErrQuotaExceeded) || errors.Is(err, quota.ErrTierRequired)
}
