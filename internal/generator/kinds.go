package generator

import (
	"fmt"
	"strings"

	"github.com/timmy/forge/internal/prompts"
)

// Kind names one artifact kind the generator can produce.
type Kind string

const (
	KindUnitTest        Kind = "unit_test"
	KindIntegrationTest Kind = "integration_test"
	KindSourceFile      Kind = "source_file"
	KindModification    Kind = "modification"
	KindReadme          Kind = "readme"
	KindAPIDoc          Kind = "api_doc"
	KindUserGuide       Kind = "user_guide"
	KindDeploymentGuide Kind = "deployment_guide"
)

// Context carries the minimal inputs a kind needs to build its prompt
// and, if the external capability fails, its fallback. It is an
// explicit value passed into every call; nothing generator-related is
// process-global.
type Context struct {
	ProjectName     string
	ProjectType     string
	TargetFile      string
	Language        string
	TaskDescription string
	Request         string
	CurrentContent  string
	Files           []string
	Platform        string
}

// kindSpec is one row of the kind registry: how to ask the external
// capability, how to judge its answer, and what to substitute when it
// fails. Adding an artifact kind is a new table entry, not a new branch.
type kindSpec struct {
	systemPrompt  string
	buildPrompt   func(Context) string
	checkContract func(Context, string) error
	buildFallback func(Context) string
}

var kinds = map[Kind]kindSpec{
	KindUnitTest: {
		systemPrompt: prompts.CodeSystemPrompt,
		buildPrompt: func(c Context) string {
			return prompts.UnitTestPrompt(c.TargetFile, c.Language, c.CurrentContent)
		},
		checkContract: checkTestContract,
		buildFallback: fallbackUnitTest,
	},
	KindIntegrationTest: {
		systemPrompt: prompts.CodeSystemPrompt,
		buildPrompt: func(c Context) string {
			return prompts.IntegrationTestPrompt(c.TargetFile, c.Language, c.Files)
		},
		checkContract: checkTestContract,
		buildFallback: fallbackIntegrationTest,
	},
	KindSourceFile: {
		systemPrompt: prompts.CodeSystemPrompt,
		buildPrompt: func(c Context) string {
			return prompts.SourceFilePrompt(c.TargetFile, c.Language, c.TaskDescription, c.Files)
		},
		checkContract: checkSourceContract,
		buildFallback: fallbackSourceFile,
	},
	KindModification: {
		systemPrompt: prompts.CodeSystemPrompt,
		buildPrompt: func(c Context) string {
			return prompts.ModificationPrompt(c.TargetFile, c.Language, c.Request, c.CurrentContent)
		},
		checkContract: checkSourceContract,
		buildFallback: func(c Context) string {
			// Leaving the file untouched is the only safe deterministic
			// substitute; callers detect the fallback flag and treat the
			// apply as failed rather than silently shipping a stub.
			if c.CurrentContent != "" {
				return c.CurrentContent
			}
			return fallbackSourceFile(c)
		},
	},
	KindReadme: {
		systemPrompt: prompts.DocSystemPrompt,
		buildPrompt: func(c Context) string {
			return prompts.ReadmePrompt(c.ProjectName, c.ProjectType, c.Files)
		},
		checkContract: func(c Context, text string) error {
			return requireHeading(text, "# "+c.ProjectName)
		},
		buildFallback: fallbackReadme,
	},
	KindAPIDoc: {
		systemPrompt: prompts.DocSystemPrompt,
		buildPrompt: func(c Context) string {
			return prompts.APIDocPrompt(c.ProjectName, c.Files)
		},
		checkContract: func(c Context, text string) error {
			return requireHeading(text, "## Endpoints")
		},
		buildFallback: fallbackAPIDoc,
	},
	KindUserGuide: {
		systemPrompt: prompts.DocSystemPrompt,
		buildPrompt: func(c Context) string {
			return prompts.UserGuidePrompt(c.ProjectName)
		},
		checkContract: func(c Context, text string) error {
			return requireHeading(text, "## Usage")
		},
		buildFallback: fallbackUserGuide,
	},
	KindDeploymentGuide: {
		systemPrompt: prompts.DocSystemPrompt,
		buildPrompt: func(c Context) string {
			return prompts.DeploymentGuidePrompt(c.ProjectName, c.Platform)
		},
		checkContract: func(c Context, text string) error {
			return requireHeading(text, "## Deployment")
		},
		buildFallback: fallbackDeploymentGuide,
	},
}

// Kinds lists the registered artifact kinds.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	return out
}

// CheckContract validates text against a kind's content contract.
func CheckContract(kind Kind, c Context, text string) error {
	spec, ok := kinds[kind]
	if !ok {
		return fmt.Errorf("unknown artifact kind %q", kind)
	}
	return spec.checkContract(c, text)
}

// ============================================================================
// Content contracts
// ============================================================================

// testMarkers maps a language to the substrings a test artifact must
// contain: a test-function declaration and an assertion.
var testMarkers = map[string]struct {
	declarations []string
	assertions   []string
}{
	"python":     {[]string{"def test_"}, []string{"assert"}},
	"go":         {[]string{"func Test"}, []string{"t.Error", "t.Fatal", "t.Errorf", "t.Fatalf"}},
	"javascript": {[]string{"test(", "it(", "describe("}, []string{"expect(", "assert"}},
	"typescript": {[]string{"test(", "it(", "describe("}, []string{"expect(", "assert"}},
}

func markersFor(language string) (declarations, assertions []string) {
	m, ok := testMarkers[strings.ToLower(language)]
	if !ok {
		m = testMarkers["python"]
	}
	return m.declarations, m.assertions
}

func checkTestContract(c Context, text string) error {
	decls, asserts := markersFor(c.Language)
	if !containsAny(text, decls) {
		return fmt.Errorf("test artifact lacks a test-function declaration for %s", c.Language)
	}
	if !containsAny(text, asserts) {
		return fmt.Errorf("test artifact lacks an assertion for %s", c.Language)
	}
	return nil
}

func checkSourceContract(c Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("source artifact is empty")
	}
	// Reject obvious markdown-fenced answers; the contract is raw file content.
	if strings.HasPrefix(strings.TrimSpace(text), "```") {
		return fmt.Errorf("source artifact is fenced markdown, not file content")
	}
	return nil
}

func requireHeading(text, heading string) error {
	if !strings.Contains(text, heading) {
		return fmt.Errorf("document artifact lacks required heading %q", heading)
	}
	return nil
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
