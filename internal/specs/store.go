// Package specs stores reusable teammate and skill definitions as YAML files.
package specs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

var (
	// ErrSpecNotFound is returned when no spec file exists for a name.
	ErrSpecNotFound = errors.New("spec not found")
	// ErrInvalidName is returned for names that cannot be used as file names.
	ErrInvalidName = errors.New("invalid spec name")
)

const (
	teammatesDir = "teammates"
	skillsDir    = "skills"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Store reads and writes spec files under a root directory:
//
//	<root>/teammates/<name>.yaml
//	<root>/skills/<name>.yaml
type Store struct {
	fs   afero.Fs
	root string
}

// New creates a store rooted at root.
func New(fsys afero.Fs, root string) *Store {
	return &Store{fs: fsys, root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// ListTeammates returns every teammate spec sorted by name.
func (s *Store) ListTeammates() ([]models.TeammateSpec, error) {
	var out []models.TeammateSpec
	err := s.list(teammatesDir, func(name string, data []byte) error {
		var spec models.TeammateSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return err
		}
		if spec.Name == "" {
			spec.Name = name
		}
		out = append(out, spec)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// GetTeammate loads one teammate spec.
func (s *Store) GetTeammate(name string) (models.TeammateSpec, error) {
	var spec models.TeammateSpec
	if err := s.get(teammatesDir, name, &spec); err != nil {
		return models.TeammateSpec{}, err
	}
	if spec.Name == "" {
		spec.Name = name
	}
	return spec, nil
}

// PutTeammate creates or replaces a teammate spec.
func (s *Store) PutTeammate(spec models.TeammateSpec) error {
	return s.put(teammatesDir, spec.Name, spec)
}

// DeleteTeammate removes a teammate spec.
func (s *Store) DeleteTeammate(name string) error {
	return s.delete(teammatesDir, name)
}

// ListSkills returns every skill spec sorted by name.
func (s *Store) ListSkills() ([]models.SkillSpec, error) {
	var out []models.SkillSpec
	err := s.list(skillsDir, func(name string, data []byte) error {
		var spec models.SkillSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return err
		}
		if spec.Name == "" {
			spec.Name = name
		}
		out = append(out, spec)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// GetSkill loads one skill spec.
func (s *Store) GetSkill(name string) (models.SkillSpec, error) {
	var spec models.SkillSpec
	if err := s.get(skillsDir, name, &spec); err != nil {
		return models.SkillSpec{}, err
	}
	if spec.Name == "" {
		spec.Name = name
	}
	return spec, nil
}

// PutSkill creates or replaces a skill spec.
func (s *Store) PutSkill(spec models.SkillSpec) error {
	return s.put(skillsDir, spec.Name, spec)
}

// DeleteSkill removes a skill spec.
func (s *Store) DeleteSkill(name string) error {
	return s.delete(skillsDir, name)
}

// Resolve looks up the named teammate and skill specs. Unknown names are
// reported together.
func (s *Store) Resolve(teammates, skills []string) ([]models.TeammateSpec, []models.SkillSpec, error) {
	var (
		errs []error
		ts   []models.TeammateSpec
		ss   []models.SkillSpec
	)
	for _, name := range teammates {
		spec, err := s.GetTeammate(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ts = append(ts, spec)
	}
	for _, name := range skills {
		spec, err := s.GetSkill(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ss = append(ss, spec)
	}
	return ts, ss, errors.Join(errs...)
}

// list calls fn for every parseable spec file in kind. Files that fail to
// parse are reported after the rest have been read.
func (s *Store) list(kind string, fn func(name string, data []byte) error) error {
	dir := filepath.Join(s.root, kind)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", dir, err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := specName(entry.Name())
		if !ok {
			continue
		}
		data, err := afero.ReadFile(s.fs, filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s spec %s: %w", kind, name, err))
			continue
		}
		if err := fn(name, data); err != nil {
			errs = append(errs, fmt.Errorf("parse %s spec %s: %w", kind, name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) get(kind, name string, out any) error {
	path, err := s.path(kind, name)
	if err != nil {
		return err
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s %q", ErrSpecNotFound, strings.TrimSuffix(kind, "s"), name)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (s *Store) put(kind, name string, spec any) error {
	path, err := s.path(kind, name)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal %s spec: %w", kind, err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create %s directory: %w", kind, err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func (s *Store) delete(kind, name string) error {
	path, err := s.path(kind, name)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s %q", ErrSpecNotFound, strings.TrimSuffix(kind, "s"), name)
		}
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (s *Store) path(kind, name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.root, kind, name+".yaml"), nil
}

func specName(file string) (string, bool) {
	for _, ext := range []string{".yaml", ".yml"} {
		if strings.HasSuffix(file, ext) {
			return strings.TrimSuffix(file, ext), true
		}
	}
	return "", false
}
