package models

// Skill is a named persona/prompt bundle selected per turn.
type Skill struct {
	// Name is the unique skill identifier (lowercase, hyphens allowed).
	Name string `json:"name" yaml:"name"`

	// Description explains what the skill does and when to use it.
	// It is what the router embeds and what the classifier sees.
	Description string `json:"description" yaml:"description"`

	// PromptTemplate is the markdown body injected into the system prompt
	// when the skill is active.
	PromptTemplate string `json:"-" yaml:"-"`

	// Available gates the skill out of routing without removing it.
	Available bool `json:"available" yaml:"available"`

	// Capabilities lists the tool names (or prefix patterns ending in "*")
	// this skill may use. Empty means all registered tools.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities"`
}
