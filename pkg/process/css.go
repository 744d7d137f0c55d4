package process

import (
	"regexp"
	"strings"
)

// One alternation so references come out in source order: groups 1-3 are a
// url(...) value (double, single or no quotes), groups 4-5 an @import string.
var cssRefRe = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^)"'\s]*))\s*\)|@import\s+(?:"([^"]*)"|'([^']*)')`)

// cssMatch returns the reference value and its tag for one match of cssRefRe
func cssMatch(css string, m []int) (value, tag string) {
	for g := 1; g <= 5; g++ {
		if m[2*g] < 0 {
			continue
		}
		tag = "css.url"
		if g >= 4 {
			tag = "css.import"
		}
		return strings.TrimSpace(css[m[2*g]:m[2*g+1]]), tag
	}
	return "", ""
}

// rewriteCSS calls fn for every reference in source order and substitutes the
// returned value when ok is true. Rewritten values are always double quoted.
func rewriteCSS(css string, fn func(value, tag string) (string, bool)) string {
	var b strings.Builder
	last := 0
	for _, m := range cssRefRe.FindAllStringSubmatchIndex(css, -1) {
		value, tag := cssMatch(css, m)
		if value == "" {
			continue
		}
		repl, ok := fn(value, tag)
		if !ok {
			continue
		}
		b.WriteString(css[last:m[0]])
		if tag == "css.import" {
			b.WriteString(`@import "` + escapeCSSString(repl) + `"`)
		} else {
			b.WriteString(`url("` + escapeCSSString(repl) + `")`)
		}
		last = m[1]
	}
	if last == 0 {
		return css
	}
	b.WriteString(css[last:])
	return b.String()
}

func escapeCSSString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `).Replace(s)
}
