// Package probe issues one polite HTTP GET per candidate key and turns the
// transport outcome into a cache status. It holds the URL templates, the
// colly-backed client, the outcome rules (auth, not found, short body,
// classifier) and the Pacer that spaces requests across lanes with jitter, a
// shared rate limit and exponential backoff after transient failures.
package probe
