// Package report models the structured audit report grammar: a
// delimiter-bounded body holding Summary, Acceptance Criteria Status,
// Children Status, and Recommendation sections.
package report

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Delimiters bounding the canonical report body inside raw agent output.
const (
	StartMarker = "--- AUDIT REPORT START ---"
	EndMarker   = "--- AUDIT REPORT END ---"
)

// Criterion verdicts.
const (
	VerdictMet     = "met"
	VerdictUnmet   = "unmet"
	VerdictPartial = "partial"
)

var (
	prURLRe     = regexp.MustCompile(`https?://[^ )]+/pull/\d+`)
	closureRe   = regexp.MustCompile(`(?i)can this item be closed\?\s*yes`)
	sectionRe   = regexp.MustCompile(`^##\s+(.+?)\s*$`)
	childHeadRe = regexp.MustCompile(`^###\s+(\S+)\s*[—:-]+\s*(.*)$`)
	dashCellRe  = regexp.MustCompile(`^:?-+:?$`)
)

// Criterion is one acceptance-criteria table row.
type Criterion struct {
	N        int    `json:"n"`
	Text     string `json:"text"`
	Verdict  string `json:"verdict"`
	Evidence string `json:"evidence,omitempty"`
}

// Child summarizes one child work item covered by the audit.
type Child struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Status   string   `json:"status,omitempty"`
	Stage    string   `json:"stage,omitempty"`
	Criteria []string `json:"criteria,omitempty"`
}

// Report is the parsed audit output.
type Report struct {
	Summary            string      `json:"summary"`
	AcceptanceCriteria []Criterion `json:"acceptance_criteria,omitempty"`
	Children           []Child     `json:"children,omitempty"`
	Recommendation     string      `json:"recommendation"`
	ClosesItem         bool        `json:"closes_item"`
	PRURL              string      `json:"pr_url,omitempty"`
	RawText            string      `json:"raw_text,omitempty"`

	// Body is the delimiter-extracted text, the part worth posting as a
	// comment. HasDelimiters is false when the markers were absent and Body
	// fell back to the whole raw text.
	Body          string `json:"-"`
	HasDelimiters bool   `json:"-"`
}

// ExtractBody returns the text between the report markers, or the trimmed
// full input when either marker is missing.
func ExtractBody(raw string) (string, bool) {
	start := strings.Index(raw, StartMarker)
	if start < 0 {
		return strings.TrimSpace(raw), false
	}
	rest := raw[start+len(StartMarker):]
	end := strings.Index(rest, EndMarker)
	if end < 0 {
		return strings.TrimSpace(rest), false
	}
	return strings.TrimSpace(rest[:end]), true
}

// Parse reads raw agent output into a Report. It never fails: missing
// markers or sections degrade to zero values, with HasDelimiters flagging
// the fallback for the caller to log.
func Parse(raw string) *Report {
	body, delimited := ExtractBody(raw)
	r := &Report{
		RawText:       raw,
		Body:          body,
		HasDelimiters: delimited,
	}

	for _, section := range splitSections(body) {
		switch strings.ToLower(section.title) {
		case "summary":
			r.Summary = strings.TrimSpace(section.content)
		case "acceptance criteria status":
			r.AcceptanceCriteria = parseCriteria(section.content)
		case "children status":
			r.Children = parseChildren(section.content)
		case "recommendation":
			r.Recommendation = strings.TrimSpace(section.content)
		}
	}

	r.ClosesItem = closureRe.MatchString(body)
	r.PRURL = prURLRe.FindString(raw)
	return r
}

// Render writes the canonical delimiter-bounded form. Parsing the rendered
// text yields an equal report, raw-text bookkeeping aside.
func (r *Report) Render() string {
	var b strings.Builder
	b.WriteString(StartMarker + "\n")

	b.WriteString("## Summary\n")
	if r.Summary != "" {
		b.WriteString(r.Summary + "\n")
	}

	b.WriteString("\n## Acceptance Criteria Status\n")
	if len(r.AcceptanceCriteria) > 0 {
		b.WriteString("| # | Criterion | Verdict | Evidence |\n")
		b.WriteString("|---|-----------|---------|----------|\n")
		for _, c := range r.AcceptanceCriteria {
			fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", c.N, c.Text, c.Verdict, c.Evidence)
		}
	}

	b.WriteString("\n## Children Status\n")
	for _, child := range r.Children {
		fmt.Fprintf(&b, "### %s - %s\n", child.ID, child.Title)
		if child.Status != "" {
			fmt.Fprintf(&b, "- status: %s\n", child.Status)
		}
		if child.Stage != "" {
			fmt.Fprintf(&b, "- stage: %s\n", child.Stage)
		}
		for _, criterion := range child.Criteria {
			fmt.Fprintf(&b, "- %s\n", criterion)
		}
	}

	b.WriteString("\n## Recommendation\n")
	if r.Recommendation != "" {
		b.WriteString(r.Recommendation + "\n")
	}

	b.WriteString(EndMarker + "\n")
	return b.String()
}

// FirstParagraph returns the first non-empty paragraph of a text block.
func FirstParagraph(s string) string {
	for _, block := range strings.Split(s, "\n\n") {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

type section struct {
	title   string
	content string
}

func splitSections(body string) []section {
	var out []section
	var current *section
	for _, line := range strings.Split(body, "\n") {
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				out = append(out, *current)
			}
			current = &section{title: m[1]}
			continue
		}
		if current != nil {
			current.content += line + "\n"
		}
	}
	if current != nil {
		out = append(out, *current)
	}
	return out
}

func parseCriteria(content string) []Criterion {
	var out []Criterion
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := splitTableRow(line)
		if len(cells) < 3 || isHeaderRow(cells) || isSeparatorRow(cells) {
			continue
		}
		c := Criterion{
			Text:    cells[1],
			Verdict: normalizeVerdict(cells[2]),
		}
		if n, err := strconv.Atoi(cells[0]); err == nil {
			c.N = n
		} else {
			c.N = len(out) + 1
		}
		if len(cells) > 3 {
			c.Evidence = cells[3]
		}
		out = append(out, c)
	}
	return out
}

func splitTableRow(line string) []string {
	parts := strings.Split(line, "|")
	// A well-formed row has empty edge cells from the leading and trailing
	// pipes.
	if len(parts) > 0 && strings.TrimSpace(parts[0]) == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isHeaderRow(cells []string) bool {
	return cells[0] == "#" || strings.EqualFold(cells[1], "criterion")
}

func isSeparatorRow(cells []string) bool {
	for _, cell := range cells {
		if !dashCellRe.MatchString(cell) {
			return false
		}
	}
	return true
}

// normalizeVerdict lower-cases the cell; met/unmet/partial are the expected
// values but unknown tokens are carried through rather than rejected.
func normalizeVerdict(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func parseChildren(content string) []Child {
	var out []Child
	var current *Child
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if m := childHeadRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				out = append(out, *current)
			}
			current = &Child{ID: m[1], Title: strings.TrimSpace(m[2])}
			continue
		}
		if current == nil || !strings.HasPrefix(line, "- ") {
			continue
		}
		rest := strings.TrimPrefix(line, "- ")
		switch {
		case strings.HasPrefix(rest, "status:"):
			current.Status = strings.TrimSpace(strings.TrimPrefix(rest, "status:"))
		case strings.HasPrefix(rest, "stage:"):
			current.Stage = strings.TrimSpace(strings.TrimPrefix(rest, "stage:"))
		default:
			current.Criteria = append(current.Criteria, rest)
		}
	}
	if current != nil {
		out = append(out, *current)
	}
	return out
}
