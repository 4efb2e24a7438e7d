package domain

import (
	"fmt"
	"strings"
)

// TransportMode selects how a session reaches its hub.
type TransportMode int

const (
	// ModeWebSocketWithFallback negotiates and prefers WebSockets, falling
	// back to long polling when the upgrade fails.
	ModeWebSocketWithFallback TransportMode = iota
	ModeWebSocketOnly
	ModeLongPollingOnly
)

// String returns a short label used in logs and diagnostics.
func (m TransportMode) String() string {
	switch m {
	case ModeWebSocketWithFallback:
		return "websockets+longpolling"
	case ModeWebSocketOnly:
		return "websockets"
	case ModeLongPollingOnly:
		return "longpolling"
	default:
		return "unknown"
	}
}

// TransportCandidate is one transport configuration tried during
// negotiation.
type TransportCandidate struct {
	URL             string
	Mode            TransportMode
	SkipNegotiation bool
}

func (c TransportCandidate) String() string {
	if c.SkipNegotiation {
		return fmt.Sprintf("%s %s (skip negotiate)", c.Mode, c.URL)
	}
	return fmt.Sprintf("%s %s", c.Mode, c.URL)
}

// apiSuffix is stripped from the REST base to find the hub origin; many
// deployments serve REST under /api while hubs live at the root.
const apiSuffix = "/api"

// HubBases returns the primary hub base (trailing /api removed) and the
// alternate base (the URL as configured). Both are trimmed of a trailing
// slash; they are equal when the URL has no /api suffix.
func HubBases(apiURL string) (primary, alternate string) {
	alternate = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	primary = strings.TrimSuffix(alternate, apiSuffix)
	return primary, alternate
}

// BuildCandidates returns the ordered fallback ladder for a hub path:
//
//  1. primary base, negotiated WebSockets with long-polling fallback
//  2. alternate base, same mode (only if it differs)
//  3. WebSockets only with negotiation skipped, both bases
//  4. long polling only, both bases
//
// Duplicate candidates are dropped so each is attempted at most once.
// An empty apiURL yields nil.
func BuildCandidates(apiURL, hubPath string) []TransportCandidate {
	primary, alternate := HubBases(apiURL)
	if primary == "" && alternate == "" {
		return nil
	}
	if !strings.HasPrefix(hubPath, "/") {
		hubPath = "/" + hubPath
	}

	bases := []string{primary, alternate}
	var out []TransportCandidate
	seen := make(map[TransportCandidate]bool)
	add := func(c TransportCandidate) {
		if seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}

	for _, base := range bases {
		add(TransportCandidate{URL: base + hubPath, Mode: ModeWebSocketWithFallback})
	}
	for _, base := range bases {
		add(TransportCandidate{URL: base + hubPath, Mode: ModeWebSocketOnly, SkipNegotiation: true})
	}
	for _, base := range bases {
		add(TransportCandidate{URL: base + hubPath, Mode: ModeLongPollingOnly})
	}
	return out
}
