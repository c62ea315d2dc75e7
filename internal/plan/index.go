package plan

import (
	"strconv"
	"strings"
)

// CompareIndex orders dotted hierarchical indices numerically segment by
// segment, so "1.9" sorts before "1.10" and prefixes sort before their
// descendants.
func CompareIndex(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr != nil || berr != nil {
			if cmp := strings.Compare(as[i], bs[i]); cmp != 0 {
				return cmp
			}
			continue
		}
		if an != bn {
			if an < bn {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	default:
		return 0
	}
}
