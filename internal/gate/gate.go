package gate

import "net/url"

/*
Responsibilities
- Classify a fetched document into Fast / ProbesFirst / Headless
- Stay a pure function of (url, html): no network calls, no cache reads

The Gate never decides what the orchestrator does with its output; it
only scores and reports. internal/eventbus.TypeGateDecision is emitted
by the caller, not by Classify itself, so the Gate stays testable
without a bus.
*/

// Gate classifies fetched responses into an extraction path.
type Gate struct {
	knownStaticAllowlist map[string]struct{}
}

// New builds a Gate. knownStaticHosts are lowercased hostnames treated
// as known-static documentation sites for the URL signal table (e.g.
// "docs.rs", "pkg.go.dev").
func New(knownStaticHosts []string) *Gate {
	allowlist := make(map[string]struct{}, len(knownStaticHosts))
	for _, host := range knownStaticHosts {
		allowlist[host] = struct{}{}
	}
	return &Gate{knownStaticAllowlist: allowlist}
}

// Classify walks htmlBody once and scores the resulting signals against
// sourceURL, returning the Decision. It is deterministic for the same
// (sourceURL, htmlBody) pair.
func (g *Gate) Classify(sourceURL url.URL, htmlBody []byte) (Decision, error) {
	features, err := ExtractFeatures(sourceURL, htmlBody, g.knownStaticAllowlist)
	if err != nil {
		return Decision{}, err
	}
	return Decide(features), nil
}
