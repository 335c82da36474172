package domain

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genVersion() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	).Map(func(values []any) Version {
		return NewVersion(values[0].(int), values[1].(int), values[2].(int), values[3].(int))
	})
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected Version
	}{
		{"1", NewVersion(1, 0, 0, 0)},
		{"1.2", NewVersion(1, 2, 0, 0)},
		{"1.2.3", NewVersion(1, 2, 3, 0)},
		{"1.0.3.3534", NewVersion(1, 0, 3, 3534)},
		{"v2.1.0.7", NewVersion(2, 1, 0, 7)},
		{" 0.0.0.1 ", NewVersion(0, 0, 0, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestParseVersion_Invalid(t *testing.T) {
	for _, input := range []string{"", "v", "1.2.3.4.5", "1.x", "1.-2", "1..2"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseVersion(input)
			require.Error(t, err)
			assert.True(t, HasCode(err, ErrInvalidInput))
		})
	}
}

func TestVersionFromSlice(t *testing.T) {
	v, err := VersionFromSlice([]int{1, 0, 3, 3534})
	require.NoError(t, err)
	assert.Equal(t, "1.0.3.3534", v.String())
	assert.Equal(t, []int{1, 0, 3, 3534}, v.Slice())

	_, err = VersionFromSlice([]int{1, 0, 3})
	assert.True(t, HasCode(err, ErrInvalidInput))

	_, err = VersionFromSlice([]int{1, -1, 0, 0})
	assert.True(t, HasCode(err, ErrInvalidInput))
}

func TestVersion_Compare(t *testing.T) {
	assert.True(t, NewVersion(1, 1, 0, 0).IsNewerThan(NewVersion(1, 0, 9, 9)))
	assert.True(t, NewVersion(1, 0, 0, 1).IsNewerThan(NewVersion(1, 0, 0, 0)))
	assert.True(t, NewVersion(0, 9, 9, 9).IsOlderThan(NewVersion(1, 0, 0, 0)))
	assert.Equal(t, 0, NewVersion(1, 2, 3, 4).Compare(MustParseVersion("1.2.3.4")))
	assert.Equal(t, NewVersion(1, 2, 3, 5), NewVersion(1, 2, 3, 4).NextRevision())
}

func TestMaxVersion(t *testing.T) {
	_, ok := MaxVersion()
	assert.False(t, ok)

	latest, ok := MaxVersion(MustParseVersion("1.0"), MustParseVersion("1.1"), MustParseVersion("1.0.5"))
	require.True(t, ok)
	assert.Equal(t, MustParseVersion("1.1"), latest)
}

func TestVersion_TextEncoding(t *testing.T) {
	data, err := json.Marshal(map[string]Version{"installed": NewVersion(1, 2, 3, 4)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"installed":"1.2.3.4"}`, string(data))

	var decoded struct {
		Installed Version `json:"installed"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, NewVersion(1, 2, 3, 4), decoded.Installed)

	assert.Error(t, json.Unmarshal([]byte(`{"installed":"one"}`), &decoded))
}

func TestVersion_TotalOrderProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("Compare is antisymmetric", prop.ForAll(
		func(a, b Version) bool {
			return a.Compare(b) == -b.Compare(a)
		},
		genVersion(), genVersion(),
	))

	properties.Property("Compare is zero exactly when versions are equal", prop.ForAll(
		func(a, b Version) bool {
			return (a.Compare(b) == 0) == (a == b)
		},
		genVersion(), genVersion(),
	))

	properties.Property("Compare is transitive", prop.ForAll(
		func(a, b, c Version) bool {
			if a.Compare(b) <= 0 && b.Compare(c) <= 0 {
				return a.Compare(c) <= 0
			}
			return true
		},
		genVersion(), genVersion(), genVersion(),
	))

	properties.Property("String round-trips through ParseVersion", prop.ForAll(
		func(v Version) bool {
			parsed, err := ParseVersion(v.String())
			return err == nil && parsed == v
		},
		genVersion(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
