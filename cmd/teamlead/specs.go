package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/teamlead/internal/specs"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

var specsCmd = &cobra.Command{
	Use:   "specs",
	Short: "List stored teammate and skill specs",
	Long: `List the reusable teammate and skill definitions sessions can reference.

Specs live as YAML files under the data directory. Manage them through the
API (PUT /api/specs/teammates/{name}) or by editing the files directly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := specs.New(afero.NewOsFs(), specsDir())
		teammates, terr := store.ListTeammates()
		skills, serr := store.ListSkills()
		printSpecs(cmd.OutOrStdout(), store.Root(), teammates, skills)
		if terr != nil {
			return fmt.Errorf("list teammates: %w", terr)
		}
		if serr != nil {
			return fmt.Errorf("list skills: %w", serr)
		}
		return nil
	},
}

var specsShowCmd = &cobra.Command{
	Use:   "show <teammate|skill> <name>",
	Short: "Print one spec as YAML",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := specs.New(afero.NewOsFs(), specsDir())
		var spec any
		var err error
		switch args[0] {
		case "teammate":
			spec, err = store.GetTeammate(args[1])
		case "skill":
			spec, err = store.GetSkill(args[1])
		default:
			return fmt.Errorf("unknown spec kind %q (want teammate or skill)", args[0])
		}
		if err != nil {
			return err
		}
		return writeYAML(cmd.OutOrStdout(), spec)
	},
}

func init() {
	specsCmd.AddCommand(specsShowCmd)
}

func printSpecs(w io.Writer, root string, teammates []models.TeammateSpec, skills []models.SkillSpec) {
	header := color.New(color.Bold)
	dim := color.New(color.Faint)

	dim.Fprintf(w, "%s\n\n", root)

	header.Fprintf(w, "Teammates (%d)\n", len(teammates))
	if len(teammates) == 0 {
		dim.Fprintln(w, "  none")
	}
	for _, t := range teammates {
		fmt.Fprintf(w, "  %-20s %s\n", t.Name, t.Description)
	}

	fmt.Fprintln(w)
	header.Fprintf(w, "Skills (%d)\n", len(skills))
	if len(skills) == 0 {
		dim.Fprintln(w, "  none")
	}
	for _, s := range skills {
		fmt.Fprintf(w, "  %-20s %s\n", s.Name, s.Description)
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
