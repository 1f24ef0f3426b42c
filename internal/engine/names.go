package engine

import (
	"regexp"
	"strconv"
	"strings"
)

var copySuffix = regexp.MustCompile(` \d+$`)

// NextCopyName numbers a copy of name after the highest existing copy.
// "Goblin" with {"Goblin", "Goblin 3"} present yields "Goblin 4".
func NextCopyName(name string, existing []string) string {
	base := copySuffix.ReplaceAllString(name, "")

	highest := 0
	for _, n := range existing {
		if n == base {
			highest = max(highest, 1)
			continue
		}
		rest, ok := strings.CutPrefix(n, base+" ")
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(rest); err == nil && v > 0 && strconv.Itoa(v) == rest {
			highest = max(highest, v)
		}
	}
	return base + " " + strconv.Itoa(highest+1)
}
