// Package anonymise replaces service-user names in document text before it
// is sent to the AI provider. It is deterministic text substitution: a run
// either applies fully or not at all, and re-running on already-substituted
// text changes nothing.
package anonymise

import (
	"regexp"
	"strings"

	"github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
)

// Result of one anonymisation pass.
type Result struct {
	Text    string
	Mapping audits.NameMapping
}

// Apply transforms text according to the job's anonymisation mode.
//
// In replace mode every case-insensitive occurrence of the subject's name
// (full name, "Last, First", bare first or last name on word boundaries)
// and of each extra declared name is substituted with the caller-supplied
// tokens. In keep mode the text is returned unchanged but occurrences are
// still counted so the rendered report can state what was retained.
func Apply(text, first, last string, mode audits.Mode, replaceFirst, replaceLast string, extra []audits.Rule) Result {
	subject := subjectLabel(first, last)
	replacement := subject
	if mode == audits.ModeReplace {
		replacement = subjectLabel(replaceFirst, replaceLast)
	}

	out := text
	// scratch consumes matched spans in keep mode so the bare first/last
	// patterns do not recount names already matched as a full name
	scratch := text
	total := 0
	for _, p := range subjectPatterns(first, last, replaceFirst, replaceLast) {
		var n int
		if mode == audits.ModeReplace {
			out, n = substitute(out, p.re, p.with)
		} else {
			scratch, n = substitute(scratch, p.re, "\x00")
		}
		total += n
	}

	mapping := audits.NameMapping{}
	if subject != "" {
		mapping = append(mapping, audits.NamePair{
			Original:    subject,
			Replacement: replacement,
			Occurrences: total,
		})
	}

	for _, r := range extra {
		if r.Name == "" {
			continue
		}
		re := wordPattern(r.Name)
		var n int
		repl := r.Name
		if mode == audits.ModeReplace {
			out, n = substitute(out, re, r.ReplaceWith)
			repl = r.ReplaceWith
		} else {
			scratch, n = substitute(scratch, re, "\x00")
		}
		mapping = append(mapping, audits.NamePair{
			Original:    r.Name,
			Replacement: repl,
			Occurrences: n,
		})
	}

	return Result{Text: out, Mapping: mapping}
}

type pattern struct {
	re   *regexp.Regexp
	with string
}

// subjectPatterns orders longest form first so partial forms never break
// an already-matched full name.
func subjectPatterns(first, last, replaceFirst, replaceLast string) []pattern {
	var ps []pattern
	if first != "" && last != "" {
		ps = append(ps,
			pattern{wordPattern(first + " " + last), replaceFirst + " " + replaceLast},
			// "Smith, Anne" variant seen in exported care records
			pattern{regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(last) + `,?\s+` + regexp.QuoteMeta(first) + `\b`), replaceLast + ", " + replaceFirst},
		)
	}
	if first != "" {
		ps = append(ps, pattern{wordPattern(first), replaceFirst})
	}
	if last != "" {
		ps = append(ps, pattern{wordPattern(last), replaceLast})
	}
	return ps
}

func wordPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
}

func substitute(text string, re *regexp.Regexp, with string) (string, int) {
	n := 0
	out := re.ReplaceAllStringFunc(text, func(string) string {
		n++
		return with
	})
	return out, n
}

func subjectLabel(first, last string) string {
	switch {
	case first == "" && last == "":
		return ""
	case last == "":
		return strings.TrimSpace(first)
	case first == "":
		return strings.TrimSpace(last)
	}
	return strings.TrimSpace(first) + " " + strings.TrimSpace(last)
}
