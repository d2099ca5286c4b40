package sentinel

import (
	"regexp"
	"strings"
)

// Volatile fragments stripped before residue ranking. Timestamps, pid
// suffixes, and hex addresses would otherwise make every occurrence of the
// same message distinct.
var residuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(\.\d{3,6})?(Z|[+-]\d{4})?`),
	regexp.MustCompile(`^[A-Z][a-z]{2} {1,2}\d{1,2} \d{2}:\d{2}:\d{2}`),
	regexp.MustCompile(`\[\d+\]`),
	regexp.MustCompile(`\(\d+\)`),
	regexp.MustCompile(`<\d+>`),
}

var hexAddrPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)

const maxResidueLen = 160

// NormalizeResidue reduces a log line to its stable message residue so that
// repeated occurrences rank as one message.
func NormalizeResidue(line string) string {
	s := line
	for _, re := range residuePatterns {
		s = re.ReplaceAllString(s, "")
	}
	s = hexAddrPattern.ReplaceAllString(s, "<addr>")
	s = strings.TrimSpace(s)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxResidueLen {
		s = s[:maxResidueLen]
	}
	return s
}
