// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package twofactor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardmud/ward/internal/identity"
)

func recordWithLocation(t *testing.T, loc string) *identity.Record {
	t.Helper()
	rec, err := identity.NewRecord("alice", "hash")
	require.NoError(t, err)
	if loc != "" {
		rec.LastLocation = &loc
	}
	return rec
}

func TestAnomalous(t *testing.T) {
	tests := []struct {
		name string
		last string
		loc  string
		want bool
	}{
		{"unknown location never anomalous", "us-east", Unknown, false},
		{"no history accepts first location", "", "us-east", false},
		{"same location", "us-east", "us-east", false},
		{"different location", "us-east", "eu-central", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := recordWithLocation(t, tt.last)
			assert.Equal(t, tt.want, Anomalous(rec, tt.loc))
		})
	}
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"203.0.113.7": "us-east"}

	loc, err := r.Resolve(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "us-east", loc)

	loc, err = r.Resolve(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	assert.Equal(t, Unknown, loc)
}

func TestNetworkResolver(t *testing.T) {
	r := NetworkResolver{}
	ctx := context.Background()

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"ipv4 folds to /16", "203.0.113.7", "203.0.0.0/16"},
		{"same /16 same location", "203.0.200.9", "203.0.0.0/16"},
		{"ipv6 folds to /48", "2001:db8:1:2::5", "2001:db8:1::/48"},
		{"mapped ipv4 treated as ipv4", "::ffff:203.0.113.7", "203.0.0.0/16"},
		{"loopback", "127.0.0.1", "local"},
		{"not an address", "example.com", Unknown},
		{"empty", "", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.origin)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNetworkResolver_CustomBits(t *testing.T) {
	r := NetworkResolver{V4Bits: 24}

	got, err := r.Resolve(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.0/24", got)
}
