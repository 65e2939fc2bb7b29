package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weblate/distributor/internal/domain"
)

var (
	console = domain.Audience{ID: domain.ConsoleID, Kind: domain.KindConsole}
	player  = domain.Audience{ID: "p1", Name: "bob", Kind: domain.KindPlayer}
	noop    = HandlerFunc(func(context.Context, *Invocation) error { return nil })
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "   ", want: nil},
		{in: "kick bob", want: []string{"kick", "bob"}},
		{in: "  kick\tbob  ", want: []string{"kick", "bob"}},
		{in: `say "hello world"`, want: []string{"say", "hello world"}},
		{in: `say 'it"s'`, want: []string{"say", `it"s`}},
		{in: `say a"b c"d`, want: []string{"say", "ab cd"}},
		{in: `say hello\ world`, want: []string{"say", "hello world"}},
		{in: `say "a \"quoted\" word"`, want: []string{"say", `a "quoted" word`}},
		{in: `say ""`, want: []string{"say", ""}},
		{in: `say "open`, wantErr: true},
		{in: `say trailing\`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Tokenize(tt.in)
			if tt.wantErr {
				var pf *domain.ParseFailure
				require.True(t, errors.As(err, &pf))
				assert.Equal(t, domain.InvalidSyntax, pf.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	for _, tok := range []string{"plain", "", "two words", `back\slash`, `"quoted"`, "it's", "tab\there"} {
		got, err := Tokenize(Quote(tok))
		require.NoError(t, err)
		assert.Equal(t, []string{tok}, got, tok)
	}
}

func TestArgumentTypes(t *testing.T) {
	tests := []struct {
		name    string
		typ     ArgumentType
		token   string
		want    any
		wantErr bool
	}{
		{name: "string", typ: String(), token: "x y", want: "x y"},
		{name: "int", typ: Int(), token: "-12", want: -12},
		{name: "int junk", typ: Int(), token: "12abc", wantErr: true},
		{name: "int float", typ: Int(), token: "1.5", wantErr: true},
		{name: "int range ok", typ: IntRange(1, 10), token: "10", want: 10},
		{name: "int range low", typ: IntRange(1, 10), token: "0", wantErr: true},
		{name: "int range high", typ: IntRange(1, 10), token: "11", wantErr: true},
		{name: "float", typ: Float(), token: "2.5", want: 2.5},
		{name: "float nan", typ: Float(), token: "NaN", wantErr: true},
		{name: "bool yes", typ: Bool(), token: "YES", want: true},
		{name: "bool off", typ: Bool(), token: "off", want: false},
		{name: "bool junk", typ: Bool(), token: "1", wantErr: true},
		{name: "duration", typ: Duration(), token: "1h30m", want: 90 * time.Minute},
		{name: "duration junk", typ: Duration(), token: "soon", wantErr: true},
		{name: "enum", typ: Enum("true", "false", "unset"), token: "UNSET", want: "unset"},
		{name: "enum junk", typ: Enum("a", "b"), token: "c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.typ.Parse(player, tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := tt.typ.Parse(player, tt.typ.Format(got))
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}

	assert.Equal(t, "integer between 1 and 10", IntRange(1, 10).Name())
	assert.Equal(t, "one of a|b", Enum("a", "b").Name())
}

func TestCustomArgument(t *testing.T) {
	upper := Custom("shout", func(_ domain.Audience, s string) (any, error) {
		if s == "" {
			return nil, errors.New("empty")
		}
		return s + "!", nil
	}, nil)
	v, err := upper.Parse(player, "hey")
	require.NoError(t, err)
	assert.Equal(t, "hey!", v)
	assert.Equal(t, "hey!", upper.Format(v))
	assert.Equal(t, "shout", upper.Name())
}

func TestDefinitionValidation(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{name: "empty name", def: Definition{Handler: noop}},
		{name: "space in name", def: Definition{Name: "perm check", Handler: noop}},
		{name: "colon in name", def: Definition{Name: "a:b", Handler: noop}},
		{name: "bad alias", def: Definition{Name: "a", Aliases: []string{""}, Handler: noop}},
		{name: "no handler", def: Definition{Name: "a"}},
		{name: "bad node", def: Definition{Name: "a", Permission: "a..b", Handler: noop}},
		{name: "untyped argument", def: Definition{Name: "a", Handler: noop, Arguments: []Argument{{Name: "x"}}}},
		{name: "duplicate argument", def: Definition{Name: "a", Handler: noop, Arguments: []Argument{
			{Name: "x", Type: String()}, {Name: "x", Type: String()},
		}}},
		{name: "variadic not last", def: Definition{Name: "a", Handler: noop, Arguments: []Argument{
			{Name: "x", Type: String(), Variadic: true}, {Name: "y", Type: String()},
		}}},
		{name: "required after optional", def: Definition{Name: "a", Handler: noop, Arguments: []Argument{
			{Name: "x", Type: String(), Optional: true}, {Name: "y", Type: String()},
		}}},
		{name: "variadic scalar default", def: Definition{Name: "a", Handler: noop, Arguments: []Argument{
			{Name: "x", Type: String(), Optional: true, Variadic: true, Default: "x"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry("")
			_, err := r.Register(tt.def)
			assert.Error(t, err)
			assert.Zero(t, r.Len())
		})
	}
}

func TestDefinitionUsageAndScope(t *testing.T) {
	d := &Definition{Name: "kick", Arguments: []Argument{
		{Name: "player", Type: String()},
		{Name: "reason", Type: String(), Optional: true, Variadic: true},
	}}
	assert.Equal(t, "kick <player> [reason...]", d.Usage())

	assert.True(t, d.Allows(player))
	d.Scope = ScopePlayer
	assert.False(t, d.Allows(console))
	d.Scope = ScopeConsole
	assert.False(t, d.Allows(player))
	assert.True(t, d.Allows(domain.Audience{ID: domain.ServerID, Kind: domain.KindServer}))
}

func TestRegistry_DuplicateLeavesRegistryUnchanged(t *testing.T) {
	r := NewRegistry("distributor")
	kick, err := r.Register(Definition{Name: "Kick", Aliases: []string{"k"}, Handler: noop})
	require.NoError(t, err)
	assert.Equal(t, "kick", kick.Name)

	collisions := []Definition{
		{Name: "kick", Handler: noop},
		{Name: "KICK", Handler: noop},
		{Name: "ban", Aliases: []string{"k"}, Handler: noop},
		{Name: "k", Handler: noop},
		{Name: "ban", Aliases: []string{"b", "b"}, Handler: noop},
	}
	for _, def := range collisions {
		_, err := r.Register(def)
		assert.ErrorIs(t, err, domain.ErrDuplicateName, def.Name)
	}

	assert.Equal(t, 1, r.Len())
	_, ok := r.Lookup("ban")
	assert.False(t, ok, "no partial registration")
	_, ok = r.Lookup("b")
	assert.False(t, ok)
}

func TestRegistry_LookupLabels(t *testing.T) {
	r := NewRegistry("Distributor")
	kick := r.MustRegister(Definition{Name: "kick", Aliases: []string{"boot"}, Handler: noop})
	ban := r.MustRegister(Definition{Name: "ban", Handler: noop})

	for _, label := range []string{"kick", "KICK", "boot", "distributor:kick", "Distributor:Boot"} {
		d, ok := r.Lookup(label)
		require.True(t, ok, label)
		assert.Same(t, kick, d)
	}
	_, ok := r.Lookup("other:kick")
	assert.False(t, ok)

	assert.Equal(t, []*Definition{kick, ban}, r.All())
	assert.Equal(t, "distributor", r.Namespace())
}

func TestRegistry_CopiesDefinition(t *testing.T) {
	r := NewRegistry("")
	def := Definition{Name: "say", Aliases: []string{"s"}, Handler: noop, Arguments: []Argument{{Name: "text", Type: String()}}}
	registered := r.MustRegister(def)

	def.Aliases[0] = "x"
	def.Arguments[0].Name = "changed"
	assert.Equal(t, []string{"s"}, registered.Aliases)
	assert.Equal(t, "text", registered.Arguments[0].Name)
}

func newKickParser(t *testing.T) (*Parser, *Definition) {
	t.Helper()
	r := NewRegistry("distributor")
	def := r.MustRegister(Definition{
		Name:       "kick",
		Permission: "distributor.command.kick",
		Handler:    noop,
		Arguments: []Argument{
			{Name: "player", Type: String()},
			{Name: "minutes", Type: IntRange(1, 60), Optional: true, Default: 5},
			{Name: "reason", Type: String(), Optional: true, Variadic: true},
		},
	})
	r.MustRegister(Definition{Name: "ping", Handler: noop})
	return NewParser(r), def
}

func TestParser_Binds(t *testing.T) {
	p, kick := newKickParser(t)

	inv, err := p.Parse(`distributor:kick bob 10 "being rude" twice`, player)
	require.NoError(t, err)
	assert.Same(t, kick, inv.Definition)
	assert.Equal(t, "distributor:kick", inv.Label)
	assert.Equal(t, player, inv.Audience)
	assert.Equal(t, "bob", GetOr(inv, "player", ""))
	assert.Equal(t, 10, GetOr(inv, "minutes", 0))
	reason, ok := Get[[]any](inv, "reason")
	require.True(t, ok)
	assert.Equal(t, []any{"being rude", "twice"}, reason)

	inv, err = p.Parse("kick bob", player)
	require.NoError(t, err)
	assert.Equal(t, 5, inv.Args["minutes"], "default bound")
	_, ok = inv.Arg("reason")
	assert.False(t, ok, "nil default stays unbound")
}

func TestParser_Failures(t *testing.T) {
	p, _ := newKickParser(t)

	tests := []struct {
		name     string
		input    string
		kind     domain.FailureKind
		index    int
		expected string
		token    string
	}{
		{name: "empty", input: "   ", kind: domain.InvalidSyntax},
		{name: "unterminated", input: `kick "bob`, kind: domain.InvalidSyntax},
		{name: "unknown", input: "unknown arg1", kind: domain.UnknownCommand},
		{name: "missing", input: "kick", kind: domain.BadArgument, index: 0, expected: "string"},
		{name: "bad int", input: "kick bob soon", kind: domain.BadArgument, index: 1, expected: "integer between 1 and 60", token: "soon"},
		{name: "out of range", input: "kick bob 61", kind: domain.BadArgument, index: 1, expected: "integer between 1 and 60", token: "61"},
		{name: "extra", input: "ping now", kind: domain.BadArgument, index: 0, expected: "end of input", token: "now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := p.Parse(tt.input, player)
			assert.Nil(t, inv)
			var pf *domain.ParseFailure
			require.True(t, errors.As(err, &pf), "got %v", err)
			assert.Equal(t, tt.kind, pf.Kind)
			if tt.kind == domain.BadArgument {
				assert.Equal(t, tt.index, pf.Index)
				assert.Equal(t, tt.expected, pf.Expected)
				assert.Equal(t, tt.token, pf.Token)
			}
		})
	}
}

func TestInvocation_RoundTrip(t *testing.T) {
	p, _ := newKickParser(t)

	inputs := []string{
		"kick bob",
		"KICK bob 7",
		`kick "bob the builder" 60 spam`,
		`distributor:kick bob 1 "quote \" inside" "" back\\slash`,
		"ping",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			first, err := p.Parse(in, player)
			require.NoError(t, err)
			second, err := p.Parse(first.String(), player)
			require.NoError(t, err, first.String())
			assert.Same(t, first.Definition, second.Definition)
			assert.Equal(t, first.Args, second.Args)
		})
	}
}

func TestInvocation_Reply(t *testing.T) {
	var got []string
	sender := domain.MessageSenderFunc(func(to domain.Audience, kind domain.MessageKind, msg string) error {
		got = append(got, to.ID+"/"+string(kind)+"/"+msg)
		return nil
	})
	inv := (&Invocation{Audience: player}).WithReply(sender)
	require.NoError(t, inv.Reply("done"))
	require.NoError(t, inv.Warn("careful"))
	assert.Equal(t, []string{"p1/info/done", "p1/warning/careful"}, got)

	assert.NoError(t, (&Invocation{}).Reply("dropped"))
}
