package ledger

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// SelectorSize is the leading function selector skipped before scanning.
	SelectorSize = 4
	// ScanWindow bounds how deep into the route payload the beneficiary is
	// searched for. Route headers place recipient params near the front.
	ScanWindow = 200
)

// ContainsBeneficiary scans a bounded prefix of an opaque route payload for
// the beneficiary's 20 raw bytes at any byte offset. This is a best-effort,
// fail-closed heuristic against a route source silently redirecting funds,
// not a structural decode and not a cryptographic guarantee. It must never
// be relaxed to accept on a short or unparseable payload.
func ContainsBeneficiary(routeInstructions []byte, beneficiary common.Address) bool {
	if len(routeInstructions) <= SelectorSize {
		return false
	}
	window := routeInstructions[SelectorSize:]
	if len(window) > ScanWindow {
		window = window[:ScanWindow]
	}
	return bytes.Contains(window, beneficiary.Bytes())
}
