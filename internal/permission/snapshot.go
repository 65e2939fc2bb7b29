package permission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/weblate/distributor/internal/domain"
)

// holder is one level of the inheritance chain: a subject or a group.
type holder struct {
	name  string
	nodes map[string]domain.Tristate
}

type groupNode struct {
	name    string
	weight  int
	parents []int
	nodes   map[string]domain.Tristate
}

// Snapshot is an immutable, validated view of a PermissionTable.
// Groups live in an arena; parents are arena indices. Every chain is
// computed once at build time so lookups never walk the graph.
type Snapshot struct {
	table    domain.PermissionTable
	groups   []groupNode
	index    map[string]int
	chains   [][]holder
	subjects map[string][]holder
	fallback []holder
}

// Decision explains a lookup: which holder set which node.
type Decision struct {
	Value  domain.Tristate
	Holder string
	Node   string
}

// Build validates table and returns its snapshot.
// Unknown parents and inheritance cycles are rejected here, so a published
// snapshot is always acyclic.
func Build(table domain.PermissionTable) (*Snapshot, error) {
	t := table.Clone()
	t.DefaultGroup = normalizeGroupName(t.DefaultGroup)

	s := &Snapshot{
		index:    make(map[string]int, len(t.Groups)),
		subjects: make(map[string][]holder, len(t.Subjects)),
	}

	for i := range t.Groups {
		g := &t.Groups[i]
		g.Name = normalizeGroupName(g.Name)
		if g.Name == "" {
			return nil, fmt.Errorf("group #%d: empty name", i)
		}
		if _, dup := s.index[g.Name]; dup {
			return nil, fmt.Errorf("duplicate group %q", g.Name)
		}
		nodes, err := normalizeNodes(g.Permissions)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}
		g.Permissions = nodes
		for j := range g.Parents {
			g.Parents[j] = normalizeGroupName(g.Parents[j])
		}
		s.index[g.Name] = i
		s.groups = append(s.groups, groupNode{name: g.Name, weight: g.Weight, nodes: nodes})
	}

	for i, g := range t.Groups {
		parents, err := s.resolveParents(g.Parents)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}
		s.groups[i].parents = parents
	}

	if err := s.checkCycles(); err != nil {
		return nil, err
	}

	s.chains = make([][]holder, len(s.groups))
	for i := range s.groups {
		s.chains[i] = s.expand([]int{i}, make(map[int]bool))
	}
	if d, ok := s.index[t.DefaultGroup]; ok {
		s.fallback = s.chains[d]
	}

	for i := range t.Subjects {
		sub := &t.Subjects[i]
		sub.ID = strings.TrimSpace(sub.ID)
		if sub.ID == "" {
			return nil, fmt.Errorf("subject #%d: empty id", i)
		}
		if _, dup := s.subjects[sub.ID]; dup {
			return nil, fmt.Errorf("duplicate subject %q", sub.ID)
		}
		nodes, err := normalizeNodes(sub.Permissions)
		if err != nil {
			return nil, fmt.Errorf("subject %q: %w", sub.ID, err)
		}
		sub.Permissions = nodes
		for j := range sub.Parents {
			sub.Parents[j] = normalizeGroupName(sub.Parents[j])
		}
		parents, err := s.resolveParents(sub.Parents)
		if err != nil {
			return nil, fmt.Errorf("subject %q: %w", sub.ID, err)
		}

		visited := make(map[int]bool)
		chain := []holder{{name: "subject:" + sub.ID, nodes: nodes}}
		chain = append(chain, s.expand(parents, visited)...)
		if d, ok := s.index[t.DefaultGroup]; ok {
			chain = append(chain, s.expand([]int{d}, visited)...)
		}
		s.subjects[sub.ID] = chain
	}

	s.table = t
	return s, nil
}

// Lookup returns the first definitive value for node, most specific level
// first, walking the audience's holder chain at each level.
func (s *Snapshot) Lookup(a domain.Audience, node string) Decision {
	chain := s.chainFor(a)
	for _, level := range Ancestors(node) {
		for _, h := range chain {
			if v := h.nodes[level]; v != domain.Unset {
				return Decision{Value: v, Holder: h.name, Node: level}
			}
		}
	}
	return Decision{Value: domain.Unset}
}

// Chain returns the holder names consulted for the audience, in order.
func (s *Snapshot) Chain(a domain.Audience) []string {
	chain := s.chainFor(a)
	names := make([]string, len(chain))
	for i, h := range chain {
		names[i] = h.name
	}
	return names
}

// Table returns a copy of the normalized table behind the snapshot.
func (s *Snapshot) Table() domain.PermissionTable {
	return s.table.Clone()
}

// VerifyOperator reports whether operators bypass node checks.
func (s *Snapshot) VerifyOperator() bool {
	return s.table.VerifyOperator
}

func (s *Snapshot) chainFor(a domain.Audience) []holder {
	if a.Kind == domain.KindGroup {
		if i, ok := s.index[normalizeGroupName(a.ID)]; ok {
			return s.chains[i]
		}
		return nil
	}
	if chain, ok := s.subjects[a.ID]; ok {
		return chain
	}
	return s.fallback
}

// resolveParents maps names to arena indices, drops repeats and orders
// siblings by weight (highest first), keeping declaration order on ties.
func (s *Snapshot) resolveParents(names []string) ([]int, error) {
	out := make([]int, 0, len(names))
	seen := make(map[int]bool, len(names))
	for _, name := range names {
		i, ok := s.index[name]
		if !ok {
			return nil, fmt.Errorf("%w %q", domain.ErrUnknownGroup, name)
		}
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return s.groups[out[a]].weight > s.groups[out[b]].weight
	})
	return out, nil
}

// expand walks roots depth-first, each group followed by its parents.
func (s *Snapshot) expand(roots []int, visited map[int]bool) []holder {
	var out []holder
	var walk func(i int)
	walk = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		g := s.groups[i]
		out = append(out, holder{name: g.name, nodes: g.nodes})
		for _, p := range g.parents {
			walk(p)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

func (s *Snapshot) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make([]uint8, len(s.groups))
	var stack []int

	var visit func(i int) error
	visit = func(i int) error {
		color[i] = grey
		stack = append(stack, i)
		for _, p := range s.groups[i].parents {
			switch color[p] {
			case grey:
				return s.cycleError(stack, p)
			case white:
				if err := visit(p); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range s.groups {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Snapshot) cycleError(stack []int, back int) error {
	start := 0
	for i, g := range stack {
		if g == back {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, g := range stack[start:] {
		path = append(path, s.groups[g].name)
	}
	path = append(path, s.groups[back].name)
	return &domain.CycleError{Path: path}
}

func normalizeNodes(in map[string]domain.Tristate) (map[string]domain.Tristate, error) {
	out := make(map[string]domain.Tristate, len(in))
	for k, v := range in {
		n, err := NormalizeNode(k)
		if err != nil {
			return nil, err
		}
		if v == domain.Unset {
			continue
		}
		if prev, ok := out[n]; ok && prev != v {
			return nil, fmt.Errorf("%w: %q conflicts with another spelling of %q", domain.ErrInvalidNode, k, n)
		}
		out[n] = v
	}
	return out, nil
}
