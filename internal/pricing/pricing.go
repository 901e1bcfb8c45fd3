// Package pricing maps a requested service set to a quoted USDC total.
// The price table and bundle discount are fixed configuration constants;
// quoting is pure and does no I/O.
package pricing

import "strings"

// Recognized service names, as the sales prompt offers them.
const (
	ServiceNarrative = "token narrative & GTM strategy"
	ServiceAvatar    = "avatar design"
	ServiceMemes     = "meme images"
	ServiceMusic     = "background music generation"
	ServiceVideo     = "launch video"
	ServiceMinting   = "on-chain minting"
)

// BundlePrice is the flat discounted price when the full catalog is
// requested. Lower than the itemized sum.
const BundlePrice float64 = 50

// priceTable is keyed by lowercased service name to make matching
// case-insensitive.
var priceTable = map[string]float64{
	strings.ToLower(ServiceNarrative): 10,
	strings.ToLower(ServiceAvatar):    10,
	strings.ToLower(ServiceMemes):     5,
	strings.ToLower(ServiceMusic):     5,
	strings.ToLower(ServiceVideo):     20,
	strings.ToLower(ServiceMinting):   10,
}

// Quote prices the requested service set. Matching is case-insensitive,
// duplicates count once, and unrecognized entries are ignored. When every
// recognized service is requested the bundle price applies instead of the
// itemized sum.
func Quote(services []string) float64 {
	seen := make(map[string]bool, len(services))
	var total float64
	for _, s := range services {
		key := strings.ToLower(strings.TrimSpace(s))
		price, ok := priceTable[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		total += price
	}
	if len(seen) == len(priceTable) {
		return BundlePrice
	}
	return total
}

// Catalog returns the recognized service names in offer order.
func Catalog() []string {
	return []string{
		ServiceNarrative,
		ServiceAvatar,
		ServiceMemes,
		ServiceMusic,
		ServiceVideo,
		ServiceMinting,
	}
}
