package supervisor

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

const leadInstructions = `You are the team lead. Break the task into a shared task list, spawn
teammates to work on it, and coordinate them until the work is done.

Teammates may message each other by including a marker in their final output:

  <!-- send-message {"type": "message", "recipient": "<teammate name>", "content": "..."} -->

Supported types are "message", "broadcast" (no recipient), "shutdown_request" and
"shutdown_response". When every task is complete, write a final summary for the user.`

const wrapUpPrompt = `All teammates have finished or gone idle. Review the task list and the
teammates' results, then write your final summary for the user and end the session.
Do not spawn new teammates.`

// systemPrompt is appended to the runtime's own system prompt.
func systemPrompt(cfg models.SessionConfig) string {
	var b strings.Builder
	b.WriteString(leadInstructions)

	if len(cfg.TeammateSpecs) > 0 {
		b.WriteString("\n\n## Available teammates\n")
		for _, t := range cfg.TeammateSpecs {
			fmt.Fprintf(&b, "\n### %s\n", t.Name)
			if t.Description != "" {
				fmt.Fprintf(&b, "%s\n", t.Description)
			}
			if t.Model != "" {
				fmt.Fprintf(&b, "Model: %s\n", t.Model)
			}
			if len(t.Tools) > 0 {
				fmt.Fprintf(&b, "Tools: %s\n", strings.Join(t.Tools, ", "))
			}
			if t.Prompt != "" {
				fmt.Fprintf(&b, "Instructions:\n%s\n", t.Prompt)
			}
		}
	}

	if len(cfg.SkillSpecs) > 0 {
		b.WriteString("\n\n## Skills\n")
		for _, sk := range cfg.SkillSpecs {
			fmt.Fprintf(&b, "\n### %s\n", sk.Name)
			if sk.Description != "" {
				fmt.Fprintf(&b, "%s\n", sk.Description)
			}
			if sk.Content != "" {
				fmt.Fprintf(&b, "%s\n", sk.Content)
			}
		}
	}

	if strings.TrimSpace(cfg.CustomInstructions) != "" {
		b.WriteString("\n\n## Additional instructions\n\n")
		b.WriteString(strings.TrimSpace(cfg.CustomInstructions))
	}
	return b.String()
}

func initialPrompt(cfg models.SessionConfig) string {
	return "Task:\n\n" + strings.TrimSpace(cfg.Task)
}

func followUpPrompt(prompt string, attachments []models.Attachment) string {
	var b strings.Builder
	b.WriteString("Follow-up from the user:\n\n")
	b.WriteString(strings.TrimSpace(prompt))
	if len(attachments) > 0 {
		b.WriteString("\n\nAttached files:\n")
		for _, a := range attachments {
			fmt.Fprintf(&b, "- %s\n", a.Path)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// transcriptBlock renders a prompt for the session's visible output.
func transcriptBlock(prompt string, attachments []models.Attachment, synthetic bool) string {
	label := "**You:**"
	if synthetic {
		label = "**Supervisor:**"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", label, strings.TrimSpace(prompt))
	for _, a := range attachments {
		name := a.Name
		if name == "" {
			name = a.Path
		}
		fmt.Fprintf(&b, "\n[%s](%s)", name, a.Path)
	}
	return b.String()
}
