package generator

import (
	"fmt"
	"path"
	"strings"
)

// Deterministic fallback artifacts. Each builder is parameterized only
// by the minimal context (target file, language, project name), is
// always syntactically valid, and always satisfies its kind's content
// contract. The pipeline depends on that to keep moving when the
// external capability is down.

func fallbackUnitTest(c Context) string {
	base := moduleName(c.TargetFile)
	switch strings.ToLower(c.Language) {
	case "go":
		return fmt.Sprintf(`package %s

import "testing"

// Placeholder test generated while automatic generation was unavailable.
func Test%sPlaceholder(t *testing.T) {
	if false {
		t.Fatalf("unreachable")
	}
}
`, base, exportName(base))
	case "javascript", "typescript":
		return fmt.Sprintf(`// Placeholder test generated while automatic generation was unavailable.
test('%s placeholder', () => {
  expect(true).toBe(true);
});
`, base)
	default: // python
		return fmt.Sprintf(`"""Placeholder tests generated while automatic generation was unavailable."""


def test_%s_placeholder():
    assert True
`, base)
	}
}

func fallbackIntegrationTest(c Context) string {
	// Same structural shape as the unit-test fallback; the contract is
	// identical and the placeholder carries the kind in its name.
	base := moduleName(c.TargetFile)
	switch strings.ToLower(c.Language) {
	case "go":
		return fmt.Sprintf(`package %s

import "testing"

// Placeholder integration test generated while automatic generation was unavailable.
func Test%sIntegrationPlaceholder(t *testing.T) {
	if false {
		t.Fatalf("unreachable")
	}
}
`, base, exportName(base))
	case "javascript", "typescript":
		return fmt.Sprintf(`// Placeholder integration test generated while automatic generation was unavailable.
test('%s integration placeholder', () => {
  expect(true).toBe(true);
});
`, base)
	default:
		return fmt.Sprintf(`"""Placeholder integration tests generated while automatic generation was unavailable."""


def test_%s_integration_placeholder():
    assert True
`, base)
	}
}

func fallbackSourceFile(c Context) string {
	base := moduleName(c.TargetFile)
	switch strings.ToLower(c.Language) {
	case "go":
		return fmt.Sprintf(`// Package %s is a stub generated while automatic generation was unavailable.
// TODO: implement %s
package %s
`, base, c.TaskDescription, base)
	case "javascript", "typescript":
		return fmt.Sprintf(`// Stub generated while automatic generation was unavailable.
// TODO: implement %s
module.exports = {};
`, c.TaskDescription)
	default:
		return fmt.Sprintf(`"""Stub generated while automatic generation was unavailable.

TODO: implement %s
"""
`, c.TaskDescription)
	}
}

func fallbackReadme(c Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.ProjectName)
	fmt.Fprintf(&b, "%s project. Documentation was generated from a fixed template;\nregenerate it once the generation capability is available.\n\n", c.ProjectType)
	if len(c.Files) > 0 {
		b.WriteString("## Files\n\n")
		for _, f := range c.Files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
	}
	return b.String()
}

func fallbackAPIDoc(c Context) string {
	return fmt.Sprintf(`# API

API reference for %s.

## Endpoints

Endpoint documentation is pending regeneration.
`, c.ProjectName)
}

func fallbackUserGuide(c Context) string {
	return fmt.Sprintf(`# %s User Guide

## Usage

Usage documentation is pending regeneration.
`, c.ProjectName)
}

func fallbackDeploymentGuide(c Context) string {
	platform := c.Platform
	if platform == "" {
		platform = "the target platform"
	}
	return fmt.Sprintf(`# %s Deployment

## Deployment

1. Build the project artifacts.
2. Provision %s.
3. Deploy the build output and verify the health endpoint.
`, c.ProjectName, platform)
}

// moduleName derives an identifier-safe base name from a file path.
func moduleName(file string) string {
	base := path.Base(file)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		base = "module"
	}
	return base
}

func exportName(s string) string {
	if s == "" {
		return "Module"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
