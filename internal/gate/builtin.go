package gate

import "github.com/steveyegge/converge/internal/types"

// Builtin gate IDs
const (
	GatePRCode = "pr-code"
	GateDesign = "design"
	GatePlan   = "plan"
)

// BuiltinGates returns fresh copies of the gates compiled into the binary.
func BuiltinGates() []*Gate {
	return []*Gate{
		{
			ID:           GatePRCode,
			Description:  "Multi-perspective review of the current branch's diff",
			ArtifactKind: types.ArtifactDiffByBranch,
			Perspectives: []Perspective{
				{ID: "correctness", Name: "Correctness", Mode: types.ModeWorker, Payload: prCorrectness},
				{ID: "security", Name: "Security", Mode: types.ModeWorker, Payload: prSecurity},
				{ID: "tests", Name: "Test coverage", Mode: types.ModeWorker, Payload: prTests},
				{ID: "maintainability", Name: "Maintainability", Mode: types.ModeWorker, Payload: prMaintainability},
				{ID: "conventions", Name: "Project conventions", Mode: types.ModeInline, Payload: prConventions},
			},
		},
		{
			ID:           GateDesign,
			Description:  "Review of a design document before implementation starts",
			ArtifactKind: types.ArtifactDocumentPath,
			Perspectives: []Perspective{
				{ID: "feasibility", Name: "Feasibility", Mode: types.ModeWorker, Payload: designFeasibility},
				{ID: "simplicity", Name: "Simplicity", Mode: types.ModeWorker, Payload: designSimplicity},
				{ID: "user-advocate", Name: "User advocate", Mode: types.ModeWorker, Payload: designUser},
				{ID: "risk", Name: "Risk", Mode: types.ModeWorker, Payload: designRisk},
			},
		},
		{
			ID:           GatePlan,
			Description:  "Review of an implementation plan",
			ArtifactKind: types.ArtifactDocumentPath,
			Perspectives: []Perspective{
				{ID: "completeness", Name: "Completeness", Mode: types.ModeWorker, Payload: planCompleteness},
				{ID: "sequencing", Name: "Sequencing", Mode: types.ModeWorker, Payload: planSequencing},
				{ID: "testability", Name: "Testability", Mode: types.ModeInline, Payload: planTestability},
			},
		},
	}
}

// RegisterBuiltinGates registers all built-in gates with the registry.
func RegisterBuiltinGates(reg *Registry) error {
	for _, g := range BuiltinGates() {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

const prCorrectness = `## Correctness
- Logic errors, off-by-one, wrong conditions
- Unhandled errors and ignored return values
- Nil/empty handling at boundaries
- Concurrency: races, leaked goroutines, missing cancellation
- Behavior changes not reflected in callers`

const prSecurity = `## Security
- Injection (SQL, shell, path traversal)
- Secrets or credentials in code or logs
- Missing authorization or validation of untrusted input
- Unsafe file permissions and temp files`

const prTests = `## Test coverage
- New behavior without tests
- Tests that cannot fail or assert nothing
- Missing edge cases: empty input, errors, limits
- Flaky timing or ordering assumptions`

const prMaintainability = `## Maintainability
- Dead code, duplicated logic, unclear names
- Functions doing too much
- Comments that contradict the code
- Leaky abstractions across package boundaries`

const prConventions = `## Project conventions
- Formatting and lint cleanliness
- Error wrapping style and log usage match the rest of the repo
- Public API changes documented`

const designFeasibility = `## Feasibility
- Can this be built with the stated resources and dependencies?
- Unstated assumptions about existing systems
- Performance or scale claims without evidence`

const designSimplicity = `## Simplicity
- Components that could be removed or merged
- Configuration or extension points nobody asked for
- A simpler alternative that meets the same goals`

const designUser = `## User advocate
- Does this solve the stated user problem?
- Confusing workflows, surprising defaults
- Migration and backwards-compatibility impact`

const designRisk = `## Risk
- Failure modes and their blast radius
- Data loss or corruption paths
- Rollout and rollback story`

const planCompleteness = `## Completeness
- Every requirement maps to a step
- Steps with no owner or no exit criteria
- Missing cleanup, docs or migration steps`

const planSequencing = `## Sequencing
- Steps that depend on later steps
- Work that could run in parallel but is serialized
- Risky steps scheduled last`

const planTestability = `## Testability
- Each step has a way to verify it is done
- Test plan covers failure paths, not only the happy path`
