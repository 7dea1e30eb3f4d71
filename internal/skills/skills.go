// Package skills discovers agent skills on disk. A skill is a directory
// containing a SKILL.md file whose YAML frontmatter describes it.
package skills

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Skill describes one discovered skill.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"` // user or project
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// UserDir returns the user-level skills directory (~/.claude/skills).
func UserDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "skills")
}

// List returns the skills found under the user directory and, when cwd is
// set, under {cwd}/.claude/skills. Missing directories are not errors;
// unreadable or malformed skills are skipped.
func List(userDir, cwd string) []Skill {
	out := scan(userDir, "user")
	if cwd != "" {
		out = append(out, scan(filepath.Join(cwd, ".claude", "skills"), "project")...)
	}
	return out
}

func scan(dir, source string) []Skill {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name(), "SKILL.md"))
		if err != nil {
			continue
		}
		fm := parseFrontmatter(data)
		name := fm.Name
		if name == "" {
			name = entry.Name()
		}
		out = append(out, Skill{Name: name, Description: fm.Description, Source: source})
	}
	return out
}

var frontmatterFence = []byte("---")

// parseFrontmatter extracts the YAML block between leading --- fences.
// Content without a frontmatter block yields an empty result.
func parseFrontmatter(data []byte) frontmatter {
	var fm frontmatter

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")) // BOM
	if !bytes.HasPrefix(data, frontmatterFence) {
		return fm
	}
	rest := data[len(frontmatterFence):]
	if i := bytes.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	} else {
		return fm
	}

	end := bytes.Index(rest, append([]byte("\n"), frontmatterFence...))
	if end < 0 {
		return fm
	}

	_ = yaml.Unmarshal(rest[:end], &fm)
	return fm
}
