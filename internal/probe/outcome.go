package probe

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// Rules turns a raw probe result into a cache verdict.
type Rules struct {
	// MinBodyBytes below which a 2xx body is treated as an empty shell.
	MinBodyBytes int
	// AuthMarkers are body fragments that mean the credential was rejected.
	AuthMarkers []string
}

// Resolve maps a probe outcome onto a verdict. Rejected credentials come back
// as *discovery.AuthError and carry no verdict; every other outcome, network
// failures included, yields a verdict and a nil error.
func (r Rules) Resolve(res discovery.ProbeResult, probeErr error, cls discovery.Classifier) (discovery.Verdict, error) {
	if probeErr != nil {
		return discovery.Verdict{Status: discovery.StatusTransientError, Signals: []string{"transport"}}, nil
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return discovery.Verdict{}, &discovery.AuthError{URL: res.URL, StatusCode: res.StatusCode, Reason: http.StatusText(res.StatusCode)}
	}
	if marker, ok := r.authMarker(res.Body); ok {
		return discovery.Verdict{}, &discovery.AuthError{URL: res.URL, StatusCode: res.StatusCode, Reason: "body contains " + marker}
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return discovery.Verdict{Status: discovery.StatusConfirmedAbsent, Signals: []string{"status:404"}}, nil
	case res.StatusCode >= 200 && res.StatusCode < 300:
		if len(bytes.TrimSpace(res.Body)) < r.MinBodyBytes {
			return discovery.Verdict{Status: discovery.StatusConfirmedAbsent, Signals: []string{"short-body"}}, nil
		}
		return cls.Classify(res.Body, res.ContentType), nil
	default:
		return discovery.Verdict{Status: discovery.StatusTransientError, Signals: []string{"status:" + http.StatusText(res.StatusCode)}}, nil
	}
}

func (r Rules) authMarker(body []byte) (string, bool) {
	if len(body) == 0 || len(r.AuthMarkers) == 0 {
		return "", false
	}
	lower := bytes.ToLower(body)
	for _, m := range r.AuthMarkers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if bytes.Contains(lower, bytes.ToLower([]byte(m))) {
			return m, true
		}
	}
	return "", false
}
