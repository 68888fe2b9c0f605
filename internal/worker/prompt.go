package worker

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/steveyegge/converge/internal/dispatch"
	"github.com/steveyegge/converge/internal/types"
)

var reviewTemplate = template.Must(template.New("review").Parse(reviewPromptTemplate))

type promptData struct {
	Gate        string
	Perspective string
	Title       string
	Round       int
	Checklist   string
	Artifact    string
	Severities  []types.Severity
}

// Prompt renders the review prompt for one task. The output contract at the
// end is what the aggregate package parses.
func Prompt(task dispatch.Task) (string, error) {
	var buf bytes.Buffer
	err := reviewTemplate.Execute(&buf, promptData{
		Gate:        task.Gate,
		Perspective: task.Perspective.ID,
		Title:       task.Perspective.Title(),
		Round:       task.Round,
		Checklist:   task.Perspective.Payload,
		Artifact:    task.Artifact,
		Severities:  types.Severities(),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt for %s/%s: %w", task.Gate, task.Perspective.ID, err)
	}
	return buf.String(), nil
}

const reviewPromptTemplate = `You are the {{.Title}} reviewer for the "{{.Gate}}" gate (round {{.Round}}).
Review ONLY from this perspective. Other perspectives are covered by other reviewers.

**Checklist:**
{{.Checklist}}

**Artifact under review:**
<artifact>
{{.Artifact}}
</artifact>

Report every issue as one numbered line, tagged with exactly one severity:
{{range .Severities}}  [{{.}}]
{{end}}
Example:
1. [CRITICAL] Password compared with == instead of a constant-time compare (auth.go:42)

CRITICAL and IMPORTANT issues block the artifact. SUGGESTION is informational.
Do not add totals or a verdict; they are ignored.
If you find nothing, reply with exactly: No findings.`
