package models

// Attachment is a file the operator attached to a follow-up prompt.
type Attachment struct {
	Name string `json:"name"`
	// Path is an absolute path or URL the lead agent can open.
	Path string `json:"path"`
}
