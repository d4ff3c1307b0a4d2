package transcript

import (
	"github.com/spf13/afero"

	"github.com/ShayCichocki/teamlead/internal/team"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

// Recover performs one synchronous transcript read and caches the final text
// if the teammate has no output yet. It reports whether output was cached.
// Running it repeatedly never replaces existing output.
func Recover(fsys afero.Fs, reg *team.Registry, agentID, path string) (models.Teammate, bool) {
	t, ok := reg.Get(agentID)
	if !ok || t.Output != "" || path == "" {
		return t, false
	}
	tr, err := Read(fsys, path)
	if err != nil || tr.FinalText == "" {
		return t, false
	}
	return reg.SetOutputIfEmpty(agentID, tr.FinalText)
}
