package models

// TeammateSpec is a reusable teammate definition.
type TeammateSpec struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Prompt      string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Tools       []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// SkillSpec is a reusable skill definition.
type SkillSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Content     string `json:"content,omitempty" yaml:"content,omitempty"`
}
