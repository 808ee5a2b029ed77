package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseOpenAIRateLimitHeaders reads the x-ratelimit-reset-* headers used by
// the OpenAI API. Reset values are Go-style durations ("1s", "6m0s").
func ParseOpenAIRateLimitHeaders(h http.Header) RateLimitInfo {
	info := parseRetryAfter(h)

	if info.RetryAfter == 0 {
		for _, key := range []string{"X-Ratelimit-Reset-Requests", "X-Ratelimit-Reset-Tokens"} {
			if v := h.Get(key); v != "" {
				if d, err := time.ParseDuration(v); err == nil && d > 0 {
					if info.RetryAfter == 0 || d < info.RetryAfter {
						info.RetryAfter = d
					}
				}
			}
		}
	}
	return info
}

// ParseAnthropicRateLimitHeaders reads the anthropic-ratelimit-*-reset
// headers, which carry RFC 3339 timestamps.
func ParseAnthropicRateLimitHeaders(h http.Header) RateLimitInfo {
	info := parseRetryAfter(h)

	if info.RetryAfter == 0 {
		for _, key := range []string{"Anthropic-Ratelimit-Requests-Reset", "Anthropic-Ratelimit-Tokens-Reset"} {
			if v := h.Get(key); v != "" {
				if ts, err := time.Parse(time.RFC3339, v); err == nil {
					info.ResetTime = ts.Unix()
					break
				}
			}
		}
	}
	return info
}

// parseRetryAfter handles the standard Retry-After header in both its
// delta-seconds and HTTP-date forms.
func parseRetryAfter(h http.Header) RateLimitInfo {
	v := h.Get("Retry-After")
	if v == "" {
		return RateLimitInfo{}
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return RateLimitInfo{RetryAfter: time.Duration(secs) * time.Second}
	}
	if ts, err := http.ParseTime(v); err == nil {
		if until := time.Until(ts); until > 0 {
			return RateLimitInfo{RetryAfter: until}
		}
	}
	return RateLimitInfo{}
}
