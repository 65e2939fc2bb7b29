package permission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weblate/distributor/internal/domain"
)

func TestNormalizeNode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "distributor.command.kick", want: "distributor.command.kick"},
		{in: "  Distributor.Command.KICK ", want: "distributor.command.kick"},
		{in: "*", want: "*"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "a..b", wantErr: true},
		{in: ".a", wantErr: true},
		{in: "a.", wantErr: true},
		{in: "a.b c", wantErr: true},
		{in: "distributor.command.*", want: "distributor.command"},
		{in: "Distributor.*", want: "distributor"},
		{in: ".*", wantErr: true},
		{in: "a.*.b", wantErr: true},
		{in: "a.b*", wantErr: true},
		{in: "a.*.*", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeNode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidNode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"a.b.c", "a.b", "a", "*"}, Ancestors("a.b.c"))
	assert.Equal(t, []string{"a", "*"}, Ancestors("a"))
	assert.Equal(t, []string{"*"}, Ancestors("*"))
}

func TestBuild_RejectsCycles(t *testing.T) {
	tests := []struct {
		name     string
		groups   []domain.Group
		wantPath []string
	}{
		{
			name:     "self parent",
			groups:   []domain.Group{{Name: "a", Parents: []string{"a"}}},
			wantPath: []string{"a", "a"},
		},
		{
			name: "two groups",
			groups: []domain.Group{
				{Name: "a", Parents: []string{"b"}},
				{Name: "b", Parents: []string{"a"}},
			},
			wantPath: []string{"a", "b", "a"},
		},
		{
			name: "cycle below an acyclic root",
			groups: []domain.Group{
				{Name: "root", Parents: []string{"x"}},
				{Name: "x", Parents: []string{"y"}},
				{Name: "y", Parents: []string{"z"}},
				{Name: "z", Parents: []string{"x"}},
			},
			wantPath: []string{"x", "y", "z", "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := Build(domain.PermissionTable{Groups: tt.groups})
			require.Error(t, err)
			assert.Nil(t, snap)
			assert.ErrorIs(t, err, domain.ErrGroupCycle)

			var cycle *domain.CycleError
			require.True(t, errors.As(err, &cycle))
			assert.Equal(t, tt.wantPath, cycle.Path)
		})
	}
}

func TestBuild_AcceptsDiamond(t *testing.T) {
	snap, err := Build(domain.PermissionTable{Groups: []domain.Group{
		{Name: "admin", Parents: []string{"mod", "builder"}},
		{Name: "mod", Parents: []string{"default"}},
		{Name: "builder", Parents: []string{"default"}},
		{Name: "default"},
	}})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"admin", "mod", "default", "builder"},
		snap.Chain(domain.Audience{ID: "admin", Kind: domain.KindGroup}))
}

func TestBuild_RejectsUnknownParent(t *testing.T) {
	_, err := Build(domain.PermissionTable{Groups: []domain.Group{
		{Name: "a", Parents: []string{"ghost"}},
	}})
	assert.ErrorIs(t, err, domain.ErrUnknownGroup)

	_, err = Build(domain.PermissionTable{
		Subjects: []domain.Subject{{ID: "p1", Parents: []string{"ghost"}}},
	})
	assert.ErrorIs(t, err, domain.ErrUnknownGroup)
}

func TestBuild_RejectsBadNodes(t *testing.T) {
	_, err := Build(domain.PermissionTable{Groups: []domain.Group{
		{Name: "a", Permissions: map[string]domain.Tristate{"a..b": domain.Granted}},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidNode)
}

func TestBuild_TrailingWildcardNodes(t *testing.T) {
	_, err := Build(domain.PermissionTable{Groups: []domain.Group{{Name: "a", Permissions: map[string]domain.Tristate{
		"x.y":   domain.Granted,
		"x.y.*": domain.Denied,
	}}}})
	assert.ErrorIs(t, err, domain.ErrInvalidNode)

	snap, err := Build(domain.PermissionTable{
		DefaultGroup: "a",
		Groups: []domain.Group{{Name: "a", Permissions: map[string]domain.Tristate{
			"distributor.command.*": domain.Granted,
		}}},
	})
	require.NoError(t, err)
	g, _ := snap.Table().Group("a")
	assert.Equal(t, map[string]domain.Tristate{"distributor.command": domain.Granted}, g.Permissions)
	assert.Equal(t, domain.Granted, snap.Lookup(domain.Audience{ID: "p", Kind: domain.KindPlayer}, "distributor.command.kick").Value)
}

func TestBuild_RejectsDuplicateGroup(t *testing.T) {
	_, err := Build(domain.PermissionTable{Groups: []domain.Group{
		{Name: "Mod"},
		{Name: "mod"},
	}})
	assert.Error(t, err)
}

func TestBuild_DoesNotAliasInput(t *testing.T) {
	table := domain.PermissionTable{Groups: []domain.Group{
		{Name: "a", Permissions: map[string]domain.Tristate{"x": domain.Granted}},
	}}
	snap, err := Build(table)
	require.NoError(t, err)

	table.Groups[0].Permissions["x"] = domain.Denied

	d := snap.Lookup(domain.Audience{ID: "a", Kind: domain.KindGroup}, "x")
	assert.Equal(t, domain.Granted, d.Value)
}

func TestSnapshot_SubjectChainEndsWithDefault(t *testing.T) {
	snap, err := Build(domain.PermissionTable{
		DefaultGroup: "default",
		Groups: []domain.Group{
			{Name: "default"},
			{Name: "vip", Weight: 1},
			{Name: "mod", Weight: 5},
		},
		Subjects: []domain.Subject{{ID: "p1", Parents: []string{"vip", "mod"}}},
	})
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"subject:p1", "mod", "vip", "default"},
		snap.Chain(domain.Audience{ID: "p1", Kind: domain.KindPlayer}))
	assert.Equal(t,
		[]string{"default"},
		snap.Chain(domain.Audience{ID: "stranger", Kind: domain.KindPlayer}))
}
