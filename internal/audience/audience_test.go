package audience

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weblate/distributor/internal/domain"
)

type sent struct {
	to      string
	kind    domain.MessageKind
	message string
}

// recordingSender implements domain.MessageSender for testing
type recordingSender struct {
	messages []sent
	failFor  map[string]bool
}

func (s *recordingSender) Send(to domain.Audience, kind domain.MessageKind, message string) error {
	if s.failFor[to.ID] {
		return errors.New("connection reset")
	}
	s.messages = append(s.messages, sent{to: to.ID, kind: kind, message: message})
	return nil
}

func TestConstructors(t *testing.T) {
	p := Player("  uuid-1 ", "", WithOperator())
	assert.Equal(t, "uuid-1", p.ID)
	assert.Equal(t, "uuid-1", p.Name)
	assert.Equal(t, domain.KindPlayer, p.Kind)
	assert.True(t, p.Can(domain.CapReceiveMessage))
	assert.True(t, p.Can(domain.CapOperator))

	assert.True(t, Console().IsPrivileged())
	assert.True(t, Server().IsPrivileged())
	assert.False(t, Server().Can(domain.CapReceiveMessage))

	g := Group("Mods", p)
	assert.Equal(t, "mods", g.ID)
	assert.True(t, g.Can(domain.CapWildcardGroup))
	assert.Len(t, g.Members, 1)
}

func TestDirectory(t *testing.T) {
	d := NewDirectory(zap.NewNop())

	c, ok := d.Get(domain.ConsoleID)
	require.True(t, ok)
	assert.Equal(t, domain.KindConsole, c.Kind)
	assert.Empty(t, d.Online())

	require.NoError(t, d.Connect(Player("b", "bob")))
	require.NoError(t, d.Connect(Player("a", "alice")))
	assert.Error(t, d.Connect(Player("console", "impostor")))
	assert.Error(t, d.Connect(domain.Audience{}))

	online := d.Online()
	require.Len(t, online, 2)
	assert.Equal(t, "a", online[0].ID)

	before := d.Online()
	d.Disconnect("a")
	d.Disconnect("nobody")
	d.Disconnect(domain.ServerID)
	_, ok = d.Get("a")
	assert.False(t, ok)
	assert.Len(t, before, 2, "earlier reads are unaffected")
	_, ok = d.Get(domain.ServerID)
	assert.True(t, ok)

	d.Clear()
	assert.Empty(t, d.Online())
	_, ok = d.Get(domain.ConsoleID)
	assert.True(t, ok)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Bob", want: "bob"},
		{in: "[red]B[]ob", want: "bob"},
		{in: "[#ff00ff]Zoé", want: "zoe"},
		{in: "Ångström", want: "angstrom"},
		{in: "  spaced  ", want: "spaced"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestPlayerLookup(t *testing.T) {
	d := NewDirectory(zap.NewNop())
	require.NoError(t, d.Connect(Player("p1", "[accent]Bob")))
	require.NoError(t, d.Connect(Player("p2", "Bobby")))
	require.NoError(t, d.Connect(Player("p3", "Zoé")))
	l := NewPlayerLookup(d)

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{name: "exact name", query: Query{Input: "bob"}, want: []string{"p1"}},
		{name: "exact beats prefix", query: Query{Input: "BOB", Prefix: true}, want: []string{"p1"}},
		{name: "prefix", query: Query{Input: "bobb", Prefix: true}, want: []string{"p2"}},
		{name: "prefix disabled", query: Query{Input: "bobb"}, want: nil},
		{name: "diacritics", query: Query{Input: "zoe"}, want: []string{"p3"}},
		{name: "id", query: Query{Input: "p2"}, want: []string{"p2"}},
		{name: "hash id", query: Query{Input: "#p3"}, want: []string{"p3"}},
		{name: "id field only", query: Query{Input: "bob", Fields: FieldID}, want: nil},
		{name: "name field only", query: Query{Input: "p1", Fields: FieldName}, want: nil},
		{name: "empty", query: Query{Input: " "}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, a := range l.Find(tt.query) {
				ids = append(ids, a.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestPlayerArgument(t *testing.T) {
	d := NewDirectory(zap.NewNop())
	require.NoError(t, d.Connect(Player("p1", "bob")))
	require.NoError(t, d.Connect(Player("p2", "bobby")))
	require.NoError(t, d.Connect(Player("p3", "bobcat")))
	arg := NewPlayerArgument(NewPlayerLookup(d), true)

	v, err := arg.Parse(Console(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "p1", v.(domain.Audience).ID)
	assert.Equal(t, "p1", arg.Format(v))

	_, err = arg.Parse(Console(), "bobb")
	require.NoError(t, err)

	_, err = arg.Parse(Console(), "bo")
	assert.ErrorContains(t, err, "3 players match")

	_, err = arg.Parse(Console(), "alice")
	assert.Error(t, err)
}

func TestBroadcaster(t *testing.T) {
	rec := &recordingSender{failFor: map[string]bool{"p3": true}}
	b := NewBroadcaster(rec)

	p1, p2, p3 := Player("p1", "a"), Player("p2", "b"), Player("p3", "c")
	inner := Group("inner", p2, p1)
	outer := Group("outer", p1, inner, p3, Server())

	err := b.Send(outer, domain.MessageInfo, "restart in 5")
	require.Error(t, err)
	assert.ErrorContains(t, err, "p3")

	var to []string
	for _, m := range rec.messages {
		to = append(to, m.to)
	}
	assert.Equal(t, []string{"p1", "p2"}, to, "each member once, server skipped")

	rec.messages = nil
	require.NoError(t, b.Send(p1, domain.MessageWarning, "hi"))
	require.Len(t, rec.messages, 1)
	assert.Equal(t, domain.MessageWarning, rec.messages[0].kind)
}
