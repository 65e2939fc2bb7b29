package infra

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/weblate/distributor/internal/domain"
)

// Files written by YAMLPermissionStore inside its directory.
const (
	GroupsFile   = "groups.yaml"
	PlayersFile  = "players.yaml"
	SettingsFile = "settings.yaml"
	lockFileName = ".permissions.lock"
)

// holderDoc is one entry of groups.yaml or players.yaml.
type holderDoc struct {
	Weight      int             `yaml:"weight,omitempty"`
	Parents     []string        `yaml:"parents,omitempty"`
	Permissions map[string]bool `yaml:"permissions,omitempty"`
}

type settingsDoc struct {
	DefaultGroup   string `yaml:"default-group"`
	VerifyOperator bool   `yaml:"verify-admin"`
}

// YAMLPermissionStore implements domain.PermissionStore with three YAML files.
// Map keys keep their file order, which is the group declaration order.
type YAMLPermissionStore struct {
	dir string
}

// NewYAMLPermissionStore creates a store rooted at dir.
func NewYAMLPermissionStore(dir string) *YAMLPermissionStore {
	return &YAMLPermissionStore{dir: dir}
}

// Dir returns the directory holding the YAML files.
func (s *YAMLPermissionStore) Dir() string {
	return s.dir
}

// Load reads the three files. Missing files are treated as empty.
func (s *YAMLPermissionStore) Load() (domain.PermissionTable, error) {
	var table domain.PermissionTable

	var settings settingsDoc
	if _, err := s.read(SettingsFile, &settings); err != nil {
		return table, err
	}
	table.DefaultGroup = settings.DefaultGroup
	table.VerifyOperator = settings.VerifyOperator

	groups, err := s.readHolders(GroupsFile)
	if err != nil {
		return table, err
	}
	for _, e := range groups {
		table.Groups = append(table.Groups, domain.Group{
			Name:        e.id,
			Parents:     e.doc.Parents,
			Permissions: toTristates(e.doc.Permissions),
			Weight:      e.doc.Weight,
		})
	}

	players, err := s.readHolders(PlayersFile)
	if err != nil {
		return table, err
	}
	for _, e := range players {
		table.Subjects = append(table.Subjects, domain.Subject{
			ID:          e.id,
			Parents:     e.doc.Parents,
			Permissions: toTristates(e.doc.Permissions),
		})
	}
	return table, nil
}

// Save rewrites all three files while holding an exclusive lock.
func (s *YAMLPermissionStore) Save(table domain.PermissionTable) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create permission directory: %w", err)
	}

	// Serialize writers across processes sharing the directory
	lockFile, err := os.OpenFile(filepath.Join(s.dir, lockFileName), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	groups := make([]holderEntry, 0, len(table.Groups))
	for _, g := range table.Groups {
		groups = append(groups, holderEntry{id: g.Name, doc: holderDoc{
			Weight:      g.Weight,
			Parents:     g.Parents,
			Permissions: toBools(g.Permissions),
		}})
	}
	players := make([]holderEntry, 0, len(table.Subjects))
	for _, sub := range table.Subjects {
		players = append(players, holderEntry{id: sub.ID, doc: holderDoc{
			Parents:     sub.Parents,
			Permissions: toBools(sub.Permissions),
		}})
	}

	if err := s.writeHolders(GroupsFile, groups); err != nil {
		return err
	}
	if err := s.writeHolders(PlayersFile, players); err != nil {
		return err
	}
	settings := settingsDoc{DefaultGroup: table.DefaultGroup, VerifyOperator: table.VerifyOperator}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", SettingsFile, err)
	}
	return s.atomicWrite(SettingsFile, data)
}

type holderEntry struct {
	id  string
	doc holderDoc
}

// readHolders decodes a top-level mapping, keeping key order.
func (s *YAMLPermissionStore) readHolders(name string) ([]holderEntry, error) {
	var root yaml.Node
	ok, err := s.read(name, &root)
	if err != nil || !ok || len(root.Content) == 0 {
		return nil, err
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: line %d: expected a mapping", name, m.Line)
	}

	entries := make([]holderEntry, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, value := m.Content[i], m.Content[i+1]
		var doc holderDoc
		if err := value.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: %q: %w", name, key.Value, err)
		}
		entries = append(entries, holderEntry{id: key.Value, doc: doc})
	}
	return entries, nil
}

func (s *YAMLPermissionStore) writeHolders(name string, entries []holderEntry) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		var value yaml.Node
		if err := value.Encode(e.doc); err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.id},
			&value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if len(entries) == 0 {
		if err := enc.Encode(map[string]holderDoc{}); err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
	} else if err := enc.Encode(root); err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return s.atomicWrite(name, buf.Bytes())
}

// read decodes a file into out. It reports false when the file is absent.
func (s *YAMLPermissionStore) read(name string, out any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return true, nil
}

// atomicWrite writes a file atomically (write + rename).
func (s *YAMLPermissionStore) atomicWrite(name string, data []byte) error {
	path := filepath.Join(s.dir, name)

	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func toTristates(in map[string]bool) map[string]domain.Tristate {
	out := make(map[string]domain.Tristate, len(in))
	for node, v := range in {
		out[node] = domain.TristateOf(v)
	}
	return out
}

// toBools drops Unset entries; absence already means unset.
func toBools(in map[string]domain.Tristate) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in))
	for node, v := range in {
		switch v {
		case domain.Granted:
			out[node] = true
		case domain.Denied:
			out[node] = false
		}
	}
	return out
}

// Ensure YAMLPermissionStore implements domain.PermissionStore.
var _ domain.PermissionStore = (*YAMLPermissionStore)(nil)
