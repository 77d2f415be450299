// internal/poller/hardfork_test.go
package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectHardFork(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		notes     string
		wantFork  bool
		wantCoord bool
	}{
		{"named upgrade in title", "Dencun Mainnet Release", "", true, true},
		{"hard fork with space", "v1.13.0", "Enables the hard fork at block 19426587", true, true},
		{"hardfork one word", "Hardfork scheduled", "", true, true},
		{"network upgrade", "v4.0.0", "Preparing for the network upgrade", true, true},
		{"upgrade block", "v4.1.0", "Sets the upgrade block for mainnet", true, true},
		{"eip with dash", "v2.0.0", "Includes EIP-4844 blob support", true, true},
		{"eip with space", "v2.1.0", "implements eip 1559 fee market changes", true, true},
		{"case insensitive", "NETWORK UPGRADE", "", true, true},
		{"backwards incompatible", "v5.0.0", "This change is backwards incompatible", true, true},
		{"coordination phrase only", "v3.0.0", "All nodes must upgrade before May 1", false, true},
		{"mandatory upgrade only", "v3.1.0", "This is a mandatory upgrade for operators", false, true},
		{"routine release", "v1.14.2", "Bug fixes and performance improvements", false, false},
		{"word boundary respected", "v1.0.0", "upgraded the blocklist handling", false, false},
		{"empty", "", "", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			report := DetectHardFork(tc.title, tc.notes)
			assert.Equal(t, tc.wantFork, report.HardFork)
			assert.Equal(t, tc.wantCoord, report.CoordinationRequired)
			if tc.wantFork {
				assert.NotEmpty(t, report.Details)
			} else {
				assert.Empty(t, report.Details)
			}
		})
	}
}

func TestDetectHardFork_CollectsEveryMatch(t *testing.T) {
	report := DetectHardFork("Shanghai upgrade", "Ships EIP-4895 withdrawals on the execution layer")

	assert.True(t, report.HardFork)
	assert.Contains(t, report.Details, "shanghai")
	assert.Contains(t, report.Details, "eip-4895")
	assert.Contains(t, report.Details, "execution layer")
}
