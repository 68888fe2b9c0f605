package aggregate

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/steveyegge/converge/internal/types"
)

const dashes = `\-\x{2013}\x{2014}`

var (
	listMarker  = regexp.MustCompile(`^(?:\d+[.)]|[-*+\x{2022}])\s+`)
	headingRe   = regexp.MustCompile(`^(?:#{1,6}\s+(.+?)\s*#*|\*\*([^*]+?):?\*\*:?|([A-Za-z][A-Za-z0-9 /()]*):)$`)
	countSuffix = regexp.MustCompile(`\s*\(\d+\)$`)

	// Item forms, tried in order. Group 1 is the severity word, group 2 the text.
	itemForms = []*regexp.Regexp{
		regexp.MustCompile(`^\[([A-Za-z0-9]+)\]\s*[:` + dashes + `]?\s*(.+)$`),
		regexp.MustCompile(`^\*\*([A-Za-z0-9]+):?\*\*\s*[:` + dashes + `]?\s*(.+)$`),
		regexp.MustCompile(`^\(([A-Za-z0-9]+)\)\s*[:` + dashes + `]?\s*(.+)$`),
		regexp.MustCompile(`^([A-Za-z0-9]+)\s*:\s*(.+)$`),
		regexp.MustCompile(`^([A-Za-z0-9]+)\s+[` + dashes + `]\s+(.+)$`),
	}

	// Trailing tag form, e.g. "Null deref in foo.go (CRITICAL)".
	trailingTag = regexp.MustCompile(`^(.+?)\s*(?:\(([A-Za-z0-9]+)\)|\[([A-Za-z0-9]+)\])[.:]?$`)

	blockField = regexp.MustCompile(`(?i)^(issue|finding|title|severity|description)\s*:\s*(.*)$`)
	emptyRe    = regexp.MustCompile(`(?i)^(?:no findings|no issues(?: found)?|findings\s*:\s*none|approved)[.!]?$`)
)

// ignoredSections name headings whose content is self-reported bookkeeping.
// They match as whole words only.
var ignoredSections = map[string]bool{
	"summary": true, "summaries": true, "total": true, "totals": true, "tally": true,
	"verdict": true, "score": true, "scores": true, "count": true, "counts": true,
}

// findingSections name headings whose list items are findings even when an
// item carries no recognizable severity.
var findingSections = map[string]bool{
	"finding": true, "findings": true, "issue": true, "issues": true, "problem": true,
	"problems": true, "concern": true, "concerns": true, "risk": true, "risks": true,
}

// tallyWords may appear in a count-only line next to numbers.
var tallyWords = map[string]bool{
	"issue": true, "issues": true, "finding": true, "findings": true,
	"item": true, "items": true, "total": true, "and": true, "found": true,
}

func labelWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// isIgnoredLabel matches short bookkeeping labels such as "Summary",
// "Totals", "Final verdict" or "Issue count". The bookkeeping word must be
// the first or last word, so "Discount calculation" is not ignored.
func isIgnoredLabel(s string) bool {
	words := labelWords(s)
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	return ignoredSections[words[0]] || ignoredSections[words[len(words)-1]]
}

func isFindingLabel(s string) bool {
	for _, w := range labelWords(s) {
		if findingSections[w] {
			return true
		}
	}
	return false
}

// sectionSeverity recognizes headings such as "## Critical" or "Important issues:".
func sectionSeverity(label string) (types.Severity, bool) {
	label = countSuffix.ReplaceAllString(strings.TrimSpace(label), "")
	fields := strings.Fields(label)
	if len(fields) == 2 && tallyWords[strings.ToLower(fields[1])] {
		fields = fields[:1]
	}
	if len(fields) != 1 {
		return "", false
	}
	sev, err := types.ParseSeverity(fields[0])
	if err != nil {
		sev, err = types.ParseSeverity(strings.TrimSuffix(fields[0], "s"))
	}
	return sev, err == nil
}

// isTally reports whether an item's text is only a count, e.g. "0" or
// "2 issues" or "0, IMPORTANT: 0".
func isTally(desc string) bool {
	words := strings.FieldsFunc(desc, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 || !isNumber(words[0]) {
		return false
	}
	for _, w := range words[1:] {
		if isNumber(w) || tallyWords[strings.ToLower(w)] {
			continue
		}
		if _, err := types.ParseSeverity(w); err == nil {
			continue
		}
		return false
	}
	return true
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// block accumulates an ISSUE/SEVERITY/DESCRIPTION group.
type block struct {
	title, severity, description string
	open                         bool
}

func (b *block) finding(perspectiveID string) (types.Finding, bool) {
	if !b.open {
		return types.Finding{}, false
	}
	desc := b.description
	switch {
	case desc == "":
		desc = b.title
	case b.title != "" && !strings.EqualFold(b.title, desc):
		desc = b.title + ": " + desc
	}
	if desc == "" {
		return types.Finding{}, false
	}
	sev, err := types.ParseSeverity(b.severity)
	if err != nil {
		// A block that does not say how bad it is still blocks.
		sev = types.SeverityImportant
	}
	return types.Finding{PerspectiveID: perspectiveID, Severity: sev, Description: desc}, true
}

// parseLines scans text line by line. It returns the findings found and
// whether an explicit "no findings" marker was seen.
func parseLines(perspectiveID, text string) ([]types.Finding, bool) {
	var (
		findings []types.Finding
		empty    bool
		ignoring bool
		inFence  bool
		section  types.Severity
		cur      block

		// inFindings is set under a findings heading, or once a tagged
		// item has been seen since the last heading.
		inFindings bool
	)
	flush := func() {
		if f, ok := cur.finding(perspectiveID); ok {
			findings = append(findings, f)
		}
		cur = block{}
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if line == "" {
			if cur.open && cur.severity != "" {
				flush()
			}
			continue
		}

		body := listMarker.ReplaceAllString(line, "")
		listed := body != line
		if emptyRe.MatchString(strings.Trim(body, "#*_> ")) {
			empty = true
			continue
		}

		if !ignoring {
			if m := blockField.FindStringSubmatch(body); m != nil {
				value := strings.TrimSpace(m[2])
				switch strings.ToLower(m[1]) {
				case "issue", "finding", "title":
					flush()
					cur = block{title: value, open: true}
					continue
				case "severity":
					if cur.open || value != "" {
						cur.open = true
						cur.severity = value
						continue
					}
				case "description":
					if cur.open {
						cur.description = value
						continue
					}
				}
			}
		}

		if m := headingRe.FindStringSubmatch(line); m != nil {
			label := m[1] + m[2] + m[3]
			flush()
			if sev, ok := sectionSeverity(label); ok {
				ignoring, section, inFindings = false, sev, true
			} else {
				ignoring, section = isIgnoredLabel(label), ""
				inFindings = !ignoring && isFindingLabel(label)
			}
			continue
		}
		if ignoring {
			continue
		}

		f, ok := parseItem(perspectiveID, body)
		if !ok && listed {
			f, ok = parseTrailing(perspectiveID, body)
		}
		if ok {
			flush()
			findings = append(findings, f)
			inFindings = true
			continue
		}
		if !listed || !inFindings {
			continue
		}
		desc := strings.TrimSpace(body)
		if desc == "" || isTally(desc) {
			continue
		}
		sev := section
		if sev == "" {
			// An enumerated finding that does not say how bad it is still blocks.
			sev = types.SeverityImportant
		}
		findings = append(findings, types.Finding{PerspectiveID: perspectiveID, Severity: sev, Description: desc})
	}
	flush()
	return findings, empty
}

// parseItem recognizes one severity-tagged item.
func parseItem(perspectiveID, body string) (types.Finding, bool) {
	for _, re := range itemForms {
		m := re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		sev, err := types.ParseSeverity(m[1])
		if err != nil {
			continue
		}
		desc := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[2]), "*_"))
		if desc == "" || isTally(desc) {
			return types.Finding{}, false
		}
		return types.Finding{PerspectiveID: perspectiveID, Severity: sev, Description: desc}, true
	}
	return types.Finding{}, false
}

// parseTrailing recognizes an item whose severity tag comes last.
func parseTrailing(perspectiveID, body string) (types.Finding, bool) {
	m := trailingTag.FindStringSubmatch(body)
	if m == nil {
		return types.Finding{}, false
	}
	sev, err := types.ParseSeverity(m[2] + m[3])
	if err != nil {
		return types.Finding{}, false
	}
	desc := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(m[1]), ":\u2013\u2014-"))
	if desc == "" || isTally(desc) {
		return types.Finding{}, false
	}
	return types.Finding{PerspectiveID: perspectiveID, Severity: sev, Description: desc}, true
}

type jsonReport struct {
	Findings *[]jsonFinding `json:"findings"`
}

type jsonFinding struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Title       string `json:"title"`
}

// parseJSON accepts {"findings": [...]}, optionally inside a ```json fence.
// Any "summary" object is ignored.
func parseJSON(perspectiveID, text string) ([]types.Finding, bool) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var rep jsonReport
	if err := json.Unmarshal([]byte(s), &rep); err != nil || rep.Findings == nil {
		return nil, false
	}
	var findings []types.Finding
	for _, jf := range *rep.Findings {
		desc := strings.TrimSpace(jf.Description)
		if desc == "" {
			desc = strings.TrimSpace(jf.Title)
		}
		if desc == "" {
			continue
		}
		sev, err := types.ParseSeverity(jf.Severity)
		if err != nil {
			sev = types.SeverityImportant
		}
		findings = append(findings, types.Finding{PerspectiveID: perspectiveID, Severity: sev, Description: desc})
	}
	return findings, true
}
