// internal/poller/hardfork.go
package poller

import (
	"regexp"
	"strings"
)

// Release notes that signal consensus-level changes get flagged so a
// dashboard can raise them above routine maintenance releases. The patterns
// cover generic hard fork language, the named Ethereum upgrades, and EIP
// references.
var hardForkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bhard\s*fork\b`),
	regexp.MustCompile(`\bhardfork\b`),
	regexp.MustCompile(`\bnetwork\s+upgrade\b`),
	regexp.MustCompile(`\bconsensus\s+change\b`),
	regexp.MustCompile(`\bprotocol\s+change\b`),
	regexp.MustCompile(`\bbackwards?\s+incompatible\b`),
	regexp.MustCompile(`\bactivation\s+block\b`),
	regexp.MustCompile(`\bupgrade\s+block\b`),
	regexp.MustCompile(`\b(shanghai|dencun|shapella|berlin|london|istanbul|constantinople|byzantium|prague|pectra)\b`),
	regexp.MustCompile(`\beip[-\s]?\d+\b`),
	regexp.MustCompile(`\bconsensus\s+layer\b`),
	regexp.MustCompile(`\bexecution\s+layer\b`),
}

// Phrases that demand operator action even without fork language.
var coordinationPhrases = []string{
	"all nodes must upgrade",
	"mandatory upgrade",
	"coordination required",
	"network participants must",
	"validators must upgrade",
}

// HardForkReport summarizes what the fork scan found in one release.
type HardForkReport struct {
	HardFork             bool
	Details              []string
	CoordinationRequired bool
}

// DetectHardFork scans a release's title and notes for signs of a
// consensus-breaking upgrade.
func DetectHardFork(title, notes string) HardForkReport {
	text := strings.ToLower(title + "\n" + notes)

	var report HardForkReport
	for _, p := range hardForkPatterns {
		if m := p.FindAllString(text, -1); len(m) > 0 {
			report.HardFork = true
			report.Details = append(report.Details, m...)
		}
	}

	report.CoordinationRequired = report.HardFork
	if !report.CoordinationRequired {
		for _, phrase := range coordinationPhrases {
			if strings.Contains(text, phrase) {
				report.CoordinationRequired = true
				break
			}
		}
	}
	return report
}
