package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []map[string]any
	}{
		{name: "nil is absent", in: nil, want: nil},
		{name: "empty list is absent", in: []any{}, want: nil},
		{
			name: "scalar list becomes id objects",
			in:   []any{"a", "b"},
			want: []map[string]any{{"_id": "a"}, {"_id": "b"}},
		},
		{
			name: "empty object is a single entry",
			in:   map[string]any{},
			want: []map[string]any{{}},
		},
		{
			name: "object is wrapped",
			in:   map[string]any{"a": 1},
			want: []map[string]any{{"a": 1}},
		},
		{
			name: "list of objects is unchanged",
			in:   []any{map[string]any{"a": 1}, map[string]any{"b": 1}},
			want: []map[string]any{{"a": 1}, {"b": 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("rejects scalar input", func(t *testing.T) {
		_, err := Normalize("a")
		assert.Error(t, err)
	})

	t.Run("rejects mixed list", func(t *testing.T) {
		_, err := Normalize([]any{"a", map[string]any{"b": 1}})
		assert.Error(t, err)
	})
}

func TestDeep(t *testing.T) {
	tests := []struct {
		name string
		x, y map[string]any
		want map[string]any
	}{
		{name: "both nil", x: nil, y: nil, want: nil},
		{name: "right empty", x: map[string]any{"a": 1}, y: map[string]any{}, want: map[string]any{"a": 1}},
		{name: "disjoint keys union", x: map[string]any{"a": 1}, y: map[string]any{"b": 2}, want: map[string]any{"a": 1, "b": 2}},
		{name: "right wins on scalars", x: map[string]any{"a": 1}, y: map[string]any{"a": 2}, want: map[string]any{"a": 2}},
		{
			name: "nested maps recurse",
			x:    map[string]any{"a": map[string]any{"b": 2, "c": 3}},
			y:    map[string]any{"a": map[string]any{"c": 13, "d": 4}},
			want: map[string]any{"a": map[string]any{"b": 2, "c": 13, "d": 4}},
		},
		{name: "right wins on lists", x: map[string]any{"a": []any{1}}, y: map[string]any{"a": []any{2}}, want: map[string]any{"a": []any{2}}},
		{name: "explicit nil wins", x: map[string]any{"a": []any{1}}, y: map[string]any{"a": nil}, want: map[string]any{"a": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Deep(tt.x, tt.y))
		})
	}

	t.Run("sources are untouched and result is independent", func(t *testing.T) {
		left := map[string]any{"a": map[string]any{"b": map[string]any{"c": 3}}}
		right := map[string]any{"a": map[string]any{"d": map[string]any{"e": 4}}}

		res := Deep(left, right)

		left["a"].(map[string]any)["b"].(map[string]any)["c"] = 777
		assert.Equal(t, map[string]any{
			"a": map[string]any{
				"b": map[string]any{"c": 3},
				"d": map[string]any{"e": 4},
			},
		}, res)
		assert.Equal(t, map[string]any{"a": map[string]any{"d": map[string]any{"e": 4}}}, right)
	})
}

func TestInputs(t *testing.T) {
	tests := []struct {
		name    string
		sources []any
		want    []map[string]any
	}{
		{name: "all absent", sources: []any{nil, nil}, want: nil},
		{
			name:    "empty object survives empty list",
			sources: []any{map[string]any{}, []any{}},
			want:    []map[string]any{{}},
		},
		{
			name:    "single object",
			sources: []any{map[string]any{"a": 1}, nil},
			want:    []map[string]any{{"a": 1}},
		},
		{
			name:    "object times scalar list fans out",
			sources: []any{map[string]any{"a": 1}, []any{"a", "b"}},
			want:    []map[string]any{{"a": 1, "_id": "a"}, {"a": 1, "_id": "b"}},
		},
		{
			name:    "id stub is overridden by scalar list",
			sources: []any{map[string]any{"_id": nil}, []any{"a"}},
			want:    []map[string]any{{"_id": "a"}},
		},
		{
			name:    "list times object distributes",
			sources: []any{[]any{map[string]any{"a": 1}, map[string]any{"a": 2}}, map[string]any{"b": 42}},
			want:    []map[string]any{{"a": 1, "b": 42}, {"a": 2, "b": 42}},
		},
		{
			name:    "right bias within the product",
			sources: []any{map[string]any{"a": 1}, []any{map[string]any{"a": 2}, map[string]any{"b": 42}}},
			want:    []map[string]any{{"a": 2}, {"a": 1, "b": 42}},
		},
		{
			name:    "cartesian product of two lists",
			sources: []any{[]any{"a", "b"}, []any{"a", "c"}},
			want:    []map[string]any{{"_id": "a"}, {"_id": "c"}, {"_id": "a"}, {"_id": "c"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Inputs(tt.sources...)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("four source merge equals folded cartesian product", func(t *testing.T) {
		defaults := map[string]any{"region": "us", "retries": 1}
		stdin := []any{map[string]any{"_id": "x"}, map[string]any{"_id": "y"}}
		getopt := map[string]any{"retries": 3}
		yaml := map[string]any{"labels": map[string]any{"tier": "prod"}}

		got, err := Inputs(defaults, stdin, getopt, yaml)

		require.NoError(t, err)
		assert.Equal(t, []map[string]any{
			{"region": "us", "retries": 3, "_id": "x", "labels": map[string]any{"tier": "prod"}},
			{"region": "us", "retries": 3, "_id": "y", "labels": map[string]any{"tier": "prod"}},
		}, got)
	})
}

func TestExpandPath(t *testing.T) {
	t.Run("single segment", func(t *testing.T) {
		assert.Equal(t, map[string]any{"a": 1}, ExpandPath("a", 1))
	})

	t.Run("nested segments", func(t *testing.T) {
		assert.Equal(t,
			map[string]any{"a": map[string]any{"b": map[string]any{"c": "prize"}}},
			ExpandPath("a/b/c", "prize"))
	})

	t.Run("nil input stays nil", func(t *testing.T) {
		assert.Nil(t, ExpandPath("a/b", nil))
	})
}
