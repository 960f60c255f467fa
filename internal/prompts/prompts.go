package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Generation system prompts
// ============================================================================

// CodeSystemPrompt defines the role for source and test generation.
const CodeSystemPrompt = `You are a senior software engineer generating production code.
Rules:
- Output only the file content, no surrounding prose and no markdown fences.
- The file must be syntactically valid for the requested language.
- Keep the code self-contained; do not reference files that were not provided.`

// DocSystemPrompt defines the role for documentation generation.
const DocSystemPrompt = `You are a technical writer producing project documentation.
Rules:
- Output GitHub-flavored Markdown only, starting with the required heading.
- Be concrete: reference the actual file names and project facts provided.
- No placeholders like TBD or lorem ipsum.`

// ============================================================================
// Per-kind user prompt templates
// ============================================================================

// UnitTestPrompt asks for a unit test file covering the target file.
func UnitTestPrompt(targetFile, language, source string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a unit test file in %s for %q.\n", language, targetFile)
	b.WriteString("Requirements: at least one test function and at least one assertion per test.\n")
	if source != "" {
		fmt.Fprintf(&b, "\nSource under test:\n%s\n", source)
	}
	return b.String()
}

// IntegrationTestPrompt asks for an integration test exercising the
// listed files together.
func IntegrationTestPrompt(targetFile, language string, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an integration test file in %s named %q.\n", language, targetFile)
	b.WriteString("It must exercise these components together and assert observable behavior:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return b.String()
}

// SourceFilePrompt asks for the implementation of one planned task.
func SourceFilePrompt(targetFile, language, taskDescription string, existing []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement %q in %s.\n", targetFile, language)
	fmt.Fprintf(&b, "Task: %s\n", taskDescription)
	if len(existing) > 0 {
		b.WriteString("Existing files in the project:\n")
		for _, f := range existing {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

// ModificationPrompt asks for an updated version of one file under a
// change request.
func ModificationPrompt(targetFile, language, request, current string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Apply this change request to %q (%s) and output the full updated file.\n", targetFile, language)
	fmt.Fprintf(&b, "Change request: %s\n", request)
	if current != "" {
		fmt.Fprintf(&b, "\nCurrent content:\n%s\n", current)
	}
	return b.String()
}

// ReadmePrompt asks for a project README.
func ReadmePrompt(projectName, projectType string, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write README.md for project %q (type: %s). Start with the heading \"# %s\".\n",
		projectName, projectType, projectName)
	b.WriteString("Cover: overview, setup, usage. Project files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return b.String()
}

// APIDocPrompt asks for API reference documentation.
func APIDocPrompt(projectName string, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write API reference documentation for project %q.\n", projectName)
	b.WriteString("Start with the heading \"# API\" and include an \"## Endpoints\" section.\n")
	b.WriteString("Project files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return b.String()
}

// UserGuidePrompt asks for an end-user guide.
func UserGuidePrompt(projectName string) string {
	return fmt.Sprintf("Write a user guide for project %q. Start with the heading \"# %s User Guide\" and include a \"## Usage\" section.\n",
		projectName, projectName)
}

// DeploymentGuidePrompt asks for a deployment guide.
func DeploymentGuidePrompt(projectName, platform string) string {
	return fmt.Sprintf("Write a deployment guide for project %q targeting %s. Start with the heading \"# %s Deployment\" and include a \"## Deployment\" section with step-by-step instructions.\n",
		projectName, platform, projectName)
}
