// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"os"
	"path/filepath"
)

// Nodes used by the sample permission files.
const (
	NodeKick = "distributor.command.kick"
	NodeHelp = "distributor.command.help"
	NodeBan  = "distributor.command.ban"
)

// PermissionFiles writes a YAML permission store to disk, laid out the way
// an operator would hand-write it.
type PermissionFiles struct {
	Dir string
}

// NewPermissionFiles creates a fixture rooted at dir.
func NewPermissionFiles(dir string) *PermissionFiles {
	return &PermissionFiles{Dir: dir}
}

// Create writes groups, players and settings:
//
//	default                   help
//	moderator(20) > default   kick, not ban
//	admin(100) > moderator    everything under distributor
//
// Player "p-mod" is a moderator and "p-admin" an admin.
func (f *PermissionFiles) Create() error {
	files := map[string]string{
		"settings.yaml": "default-group: default\nverify-admin: false\n",
		"groups.yaml": `default:
  permissions:
    distributor.command.help: true
moderator:
  weight: 20
  parents: [default]
  permissions:
    distributor.command.kick: true
    distributor.command.ban: false
admin:
  weight: 100
  parents: [moderator]
  permissions:
    distributor: true
`,
		"players.yaml": `p-mod:
  parents: [moderator]
p-admin:
  parents: [admin]
  permissions:
    distributor.command.ban: true
`,
	}
	return f.write(files)
}

// CreateCycle writes groups whose parents form a loop.
func (f *PermissionFiles) CreateCycle() error {
	return f.write(map[string]string{
		"groups.yaml": "a:\n  parents: [b]\nb:\n  parents: [c]\nc:\n  parents: [a]\n",
	})
}

// Read returns the content of one of the files.
func (f *PermissionFiles) Read(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.Dir, name))
	return string(data), err
}

// Exists checks if every file is present.
func (f *PermissionFiles) Exists() bool {
	for _, name := range []string{"groups.yaml", "players.yaml", "settings.yaml"} {
		if _, err := os.Stat(filepath.Join(f.Dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Cleanup removes the fixture directory.
func (f *PermissionFiles) Cleanup() error {
	return os.RemoveAll(f.Dir)
}

func (f *PermissionFiles) write(files map[string]string) error {
	if err := os.MkdirAll(f.Dir, 0700); err != nil {
		return err
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(f.Dir, name), []byte(content), 0600); err != nil {
			return err
		}
	}
	return nil
}
