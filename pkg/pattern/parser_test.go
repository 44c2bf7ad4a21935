// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package pattern

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cmp(path string, op Operator, v Value) *Comparison {
	return &Comparison{Path: Path(path), Op: op, Value: v}
}

func str(s string) Value { return Value{Type: String, Text: s} }

func TestParse_Comparison(t *testing.T) {
	for _, x := range []struct {
		pattern string
		want    *Comparison
	}{
		{`[ipv4-addr:value = '1.2.3.4']`, cmp("ipv4-addr:value", EQ, str("1.2.3.4"))},
		{`[file:hashes.MD5 != 'abc']`, cmp("file:hashes.MD5", NEQ, str("abc"))},
		{`[file:hashes.'SHA-256' = 'abc']`, cmp("file:hashes.'SHA-256'", EQ, str("abc"))},
		{`[network-traffic:src_port > 1024]`, cmp("network-traffic:src_port", GT, Value{Type: Number, Text: "1024", Number: 1024})},
		{`[network-traffic:src_port <= -1.5]`, cmp("network-traffic:src_port", LTE, Value{Type: Number, Text: "-1.5", Number: -1.5})},
		{`[x-thing:enabled = true]`, cmp("x-thing:enabled", EQ, Value{Type: Boolean, Bool: true})},
		{`[x-thing:list[*].name LIKE 'a%']`, cmp("x-thing:list[*].name", LIKE, str("a%"))},
		{`[x-thing:list[3] MATCHES '^a.*$']`, cmp("x-thing:list[3]", MATCHES, str("^a.*$"))},
		{`[ipv4-addr:value ISSUBSET '10.0.0.0/8']`, cmp("ipv4-addr:value", ISSUBSET, str("10.0.0.0/8"))},
		{`[file:name = 'it\'s \\ here']`, cmp("file:name", EQ, str(`it's \ here`))},
		{`[artifact:payload_bin = b'aGVsbG8=']`, cmp("artifact:payload_bin", EQ, Value{Type: String, Format: Binary, Text: "aGVsbG8="})},
		{`[file:magic_number_hex = h'FFD8']`, cmp("file:magic_number_hex", EQ, Value{Type: String, Format: Hex, Text: "ffd8"})},
		{`[user-account:user_id in ('a', 'b')]`, cmp("user-account:user_id", IN, Value{Type: List, List: []Value{str("a"), str("b")}})},
		{`[user-account:user_id IN ['a']]`, cmp("user-account:user_id", IN, Value{Type: List, List: []Value{str("a")}})},
	} {
		t.Run(x.pattern, func(t *testing.T) {
			p, err := Parse(x.pattern)
			require.NoError(t, err)
			assert.Equal(t, x.want, p.Root)
		})
	}
}

func TestParse_Timestamp(t *testing.T) {
	p, err := Parse(`[file:created > t'2020-01-02T03:04:05.5Z']`)
	require.NoError(t, err)
	c := p.Root.(*Comparison)
	assert.Equal(t, Timestamp, c.Value.Type)
	assert.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 500000000, time.UTC), c.Value.Time)
	assert.Equal(t, "2020-01-02T03:04:05.5Z", c.Value.Text)
}

func TestParse_Negated(t *testing.T) {
	p, err := Parse(`[file:name NOT LIKE 'x%']`)
	require.NoError(t, err)
	assert.Equal(t, &Comparison{Path: "file:name", Op: LIKE, Negated: true, Value: str("x%")}, p.Root)
	assert.Equal(t, `[file:name NOT LIKE 'x%']`, p.String())
}

func TestParse_Precedence(t *testing.T) {
	a, b, c := cmp("a:x", EQ, str("a")), cmp("b:x", EQ, str("b")), cmp("c:x", EQ, str("c"))
	for _, x := range []struct {
		pattern string
		want    Node
	}{
		{`[a:x = 'a' AND b:x = 'b' OR c:x = 'c']`,
			&Combination{Op: OR, Children: []Node{&Combination{Op: AND, Children: []Node{a, b}}, c}}},
		{`[a:x = 'a' OR b:x = 'b' AND c:x = 'c']`,
			&Combination{Op: OR, Children: []Node{a, &Combination{Op: AND, Children: []Node{b, c}}}}},
		{`[(a:x = 'a' OR b:x = 'b') AND c:x = 'c']`,
			&Combination{Op: AND, Children: []Node{&Combination{Op: OR, Children: []Node{a, b}}, c}}},
		{`[a:x = 'a' AND (b:x = 'b' AND c:x = 'c')]`,
			&Combination{Op: AND, Children: []Node{a, b, c}}},
		{`[a:x = 'a'] AND [b:x = 'b'] OR [c:x = 'c']`,
			&Combination{Op: OR, Observation: true, Children: []Node{&Combination{Op: AND, Observation: true, Children: []Node{a, b}}, c}}},
		{`[a:x = 'a'] FOLLOWEDBY [b:x = 'b'] OR [c:x = 'c']`,
			&Combination{Op: FOLLOWEDBY, Observation: true, Children: []Node{a, &Combination{Op: OR, Observation: true, Children: []Node{b, c}}}}},
		{`[a:x = 'a' AND b:x = 'b'] AND [c:x = 'c']`,
			&Combination{Op: AND, Observation: true, Children: []Node{&Combination{Op: AND, Children: []Node{a, b}}, c}}},
		{`([a:x = 'a'] AND [b:x = 'b']) AND [c:x = 'c']`,
			&Combination{Op: AND, Observation: true, Children: []Node{a, b, c}}},
	} {
		t.Run(x.pattern, func(t *testing.T) {
			p, err := Parse(x.pattern)
			require.NoError(t, err)
			assert.Equal(t, x.want, p.Root)
		})
	}
}

func TestParse_Qualifiers(t *testing.T) {
	start := time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC)
	stop := time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)
	within := 300 * time.Second
	repeats := 5
	a, b := cmp("a:x", EQ, str("a")), cmp("b:x", EQ, str("b"))
	for _, x := range []struct {
		pattern string
		want    Node
	}{
		{`[a:x = 'a'] START t'2016-06-01T00:00:00Z' STOP t'2016-07-01T00:00:00Z'`,
			&Combination{Op: AND, Observation: true, Children: []Node{a}, Qualifier: &Qualifier{Start: &start, Stop: &stop}}},
		{`([a:x = 'a'] OR [b:x = 'b']) WITHIN 300 SECONDS`,
			&Combination{Op: OR, Observation: true, Children: []Node{a, b}, Qualifier: &Qualifier{Within: &within}}},
		{`[a:x = 'a'] REPEATS 5 TIMES WITHIN 300 SECONDS`,
			&Combination{Op: AND, Observation: true, Children: []Node{a}, Qualifier: &Qualifier{Within: &within, Repeats: &repeats}}},
		{`[a:x = 'a'] AND [b:x = 'b'] WITHIN 300 SECONDS`,
			&Combination{Op: AND, Observation: true, Children: []Node{
				a, &Combination{Op: AND, Observation: true, Children: []Node{b}, Qualifier: &Qualifier{Within: &within}}}}},
	} {
		t.Run(x.pattern, func(t *testing.T) {
			p, err := Parse(x.pattern)
			require.NoError(t, err)
			assert.Equal(t, x.want, p.Root)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, x := range []struct {
		pattern string
		pos     int
		msg     string
	}{
		{``, 0, "expected [ or (, found end of pattern"},
		{`[a:x = 'a'`, 10, "expected ] or AND or OR, found end of pattern"},
		{`([a:x = 'a']`, 12, "expected ), found end of pattern"},
		{`[a:x ~ 'a']`, 5, `unexpected character "~"`},
		{`[a:x LIKES 'a']`, 5, `found "LIKES"`},
		{`[a = 'a']`, 2, "missing ':' after object type"},
		{`[a:x = 'a]`, 7, "unterminated string"},
		{`[a:x = 12abc]`, 7, "malformed number"},
		{`[a:x = t'yesterday']`, 7, "malformed timestamp"},
		{`[a:x = h'xyz']`, 7, "malformed hex literal"},
		{`[a:x IN 'a']`, 8, "expected ( or ["},
		{`[a:x LIKE 5]`, 5, "LIKE requires a string"},
		{`WITHIN 5 SECONDS`, 0, "dangling qualifier"},
		{`[a:x = 'a'] AND WITHIN 5 SECONDS`, 16, "dangling qualifier"},
		{`[a:x = 'a' WITHIN 5 SECONDS]`, 11, "qualifier inside observation expression"},
		{`[a:x = 'a'] START t'2016-06-01T00:00:00Z'`, 41, "START without STOP"},
		{`[a:x = 'a'] START t'2017-06-01T00:00:00Z' STOP t'2016-06-01T00:00:00Z'`, 12, "is after STOP"},
		{`[a:x = 'a'] WITHIN 5 SECONDS WITHIN 6 SECONDS`, 29, "duplicate WITHIN qualifier"},
		{`[a:x = 'a'] REPEATS 0 TIMES`, 20, "expected positive integer"},
		{`[a:x = 'a'] ]`, 12, "expected AND or OR or FOLLOWEDBY or qualifier"},
	} {
		t.Run(x.pattern, func(t *testing.T) {
			_, err := Parse(x.pattern)
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "%T", err)
			assert.Equal(t, x.pos, pe.Pos, err.Error())
			assert.Contains(t, err.Error(), x.msg)
		})
	}
}

func TestParse_Deterministic(t *testing.T) {
	const s = `([a:x = 'a' OR b:y IN (1, 2)] FOLLOWEDBY [c:z != true]) WITHIN 5 SECONDS OR [d:w LIKE 'x']`
	p1, err := Parse(s)
	require.NoError(t, err)
	p2, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	j1, _ := json.Marshal(p1)
	j2, _ := json.Marshal(p2)
	assert.JSONEq(t, string(j1), string(j2))
}

func TestPattern_String(t *testing.T) {
	for _, x := range []struct{ pattern, want string }{
		{`[ipv4-addr:value='1.2.3.4']`, `[ipv4-addr:value = '1.2.3.4']`},
		{`[a:x = 'a' and (b:x = 'b' or c:x = 'c')]`, `[a:x = 'a' AND (b:x = 'b' OR c:x = 'c')]`},
		{`[a:x = 'a'] AND ([b:x = 'b'] OR [c:x = 'c'])`, `[a:x = 'a'] AND ([b:x = 'b'] OR [c:x = 'c'])`},
		{`[a:x = 1] WITHIN 5 SECONDS`, `[a:x = 1] WITHIN 5 SECONDS`},
		{`([a:x = 1] FOLLOWEDBY [b:x = 2]) REPEATS 2 TIMES`, `([a:x = 1] FOLLOWEDBY [b:x = 2]) REPEATS 2 TIMES`},
		{`[a:x IN ['p', 'q']]`, `[a:x IN ('p', 'q')]`},
		{`[a:x = 'a'] START t'2016-06-01T00:00:00Z' STOP t'2016-07-01T00:00:00Z'`,
			`[a:x = 'a'] START t'2016-06-01T00:00:00Z' STOP t'2016-07-01T00:00:00Z'`},
	} {
		t.Run(x.pattern, func(t *testing.T) {
			p, err := Parse(x.pattern)
			require.NoError(t, err)
			assert.Equal(t, x.want, p.String())
			// Canonical form parses to the same tree.
			p2, err := Parse(p.String())
			require.NoError(t, err)
			assert.Equal(t, p.Root, p2.Root)
		})
	}
}

func TestComparisons(t *testing.T) {
	p, err := Parse(`[a:x = 'a' AND b:x = 'b'] OR [c:x = 'c']`)
	require.NoError(t, err)
	var paths []Path
	for _, c := range Comparisons(p.Root) {
		paths = append(paths, c.Path)
	}
	assert.Equal(t, []Path{"a:x", "b:x", "c:x"}, paths)
	assert.Equal(t, "a", Path("a:x").Object())
	assert.Equal(t, "x", Path("a:x").Property())
}

func TestValue_Any(t *testing.T) {
	p, err := Parse(`[a:x IN (1, 2.5, 'z', true)]`)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), 2.5, "z", true}, p.Root.(*Comparison).Value.Any())
}
