package skills

import (
	"strings"
	"testing"
)

func TestParseSkill(t *testing.T) {
	data := []byte(`---
name: code-review
description: Reviews code changes
capabilities:
  - shell
  - git
---

# Code Review

Review the diff carefully.`)

	skill, err := ParseSkill(data)
	if err != nil {
		t.Fatalf("ParseSkill failed: %v", err)
	}
	if skill.Name != "code-review" {
		t.Errorf("Name = %q, want code-review", skill.Name)
	}
	if skill.Description != "Reviews code changes" {
		t.Errorf("Description = %q", skill.Description)
	}
	if len(skill.Capabilities) != 2 || skill.Capabilities[0] != "shell" {
		t.Errorf("Capabilities = %v", skill.Capabilities)
	}
	if !skill.Available {
		t.Error("Available should default to true")
	}
	if !strings.HasPrefix(skill.PromptTemplate, "# Code Review") {
		t.Errorf("PromptTemplate = %q", skill.PromptTemplate)
	}
}

func TestParseSkillUnavailable(t *testing.T) {
	data := []byte("---\nname: draft\ndescription: wip skill\navailable: false\n---\nbody")
	skill, err := ParseSkill(data)
	if err != nil {
		t.Fatal(err)
	}
	if skill.Available {
		t.Error("Available = true, want false")
	}
}

func TestParseSkillErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"no frontmatter", "# just markdown"},
		{"unterminated frontmatter", "---\nname: x\n"},
		{"missing name", "---\ndescription: d\n---\nbody"},
		{"missing description", "---\nname: x\n---\nbody"},
		{"bad name format", "---\nname: Has Spaces\ndescription: d\n---\nbody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSkill([]byte(tt.data)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}
