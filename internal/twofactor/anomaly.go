// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package twofactor

import (
	"context"
	"net/netip"

	"github.com/wardmud/ward/internal/identity"
)

// Unknown is the location returned when resolution fails or is ambiguous.
// An unknown location never flags an anomaly by itself.
const Unknown = ""

// LocationResolver resolves a connection's network origin to a coarse
// location code (country/region). The raw geographic lookup is an external
// collaborator; the engine only consumes the decoded result.
type LocationResolver interface {
	Resolve(ctx context.Context, origin string) (string, error)
}

// StaticResolver maps origins to locations from a fixed table. Used in
// tests and as a stand-in where no lookup database is deployed.
type StaticResolver map[string]string

// Resolve returns the mapped location or Unknown.
func (r StaticResolver) Resolve(_ context.Context, origin string) (string, error) {
	return r[origin], nil
}

// NetworkResolver folds an origin IP into its containing network prefix,
// so "same network, new address" never reads as a location change. Used
// where no geographic lookup database is deployed.
type NetworkResolver struct {
	// V4Bits and V6Bits are the prefix lengths applied to IPv4 and IPv6
	// origins. Zero values fall back to /16 and /48.
	V4Bits int
	V6Bits int
}

// Resolve returns the origin's network prefix in CIDR form, or Unknown
// for origins that do not parse as IP addresses. Loopback origins map
// to a fixed "local" location.
func (r NetworkResolver) Resolve(_ context.Context, origin string) (string, error) {
	addr, err := netip.ParseAddr(origin)
	if err != nil {
		return Unknown, nil
	}
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return "local", nil
	}
	bits := r.V4Bits
	if bits == 0 {
		bits = 16
	}
	if addr.Is6() && !addr.Is4In6() {
		bits = r.V6Bits
		if bits == 0 {
			bits = 48
		}
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return Unknown, nil
	}
	return prefix.String(), nil
}

// Anomalous reports whether a connection from loc deviates from the
// record's established history: the location is known-resolvable, differs
// from the last seen one, and has never been recorded for this identity.
// An anomalous connection always forces a second-factor-style challenge,
// even when TOTP is not enrolled.
func Anomalous(rec *identity.Record, loc string) bool {
	if loc == Unknown {
		return false
	}
	if rec.LastLocation == nil {
		// No history yet: the first resolved location is accepted as the
		// baseline rather than challenged.
		return false
	}
	return !rec.KnowsLocation(loc)
}
