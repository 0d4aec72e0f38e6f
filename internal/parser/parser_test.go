package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponcodes/internal/model"
)

func TestParseText(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		ignore model.CodeSet
		want   []string
	}{
		{"mixed separators", "AAA BBB, CCC", model.NewCodeSet("BBB"), []string{"AAA", "CCC"}},
		{"newlines and tabs", "AAA\nBBB\r\n\tCCC", nil, []string{"AAA", "BBB", "CCC"}},
		{"runs of commas", ",,AAA,,, ,BBB,", nil, []string{"AAA", "BBB"}},
		{"duplicates keep first", "BBB AAA BBB", nil, []string{"BBB", "AAA"}},
		{"verbatim case", "abc ABC", nil, []string{"abc", "ABC"}},
		{"blank", " \n , ", nil, []string{}},
		{"vertical tab and form feed", "AAA\vBBB\fCCC", nil, []string{"AAA", "BBB", "CCC"}},
		{"no-break space stays in code", "AAA\u00a0BBB CCC", nil, []string{"AAA\u00a0BBB", "CCC"}},
		{"all ignored", "AAA", model.NewCodeSet("AAA"), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseText(tt.input, tt.ignore))
		})
	}
}

func TestParseRows(t *testing.T) {
	got := ParseRows([][]string{{"DDD", "x"}, {"EEE", "y"}}, model.NewCodeSet())
	assert.Equal(t, []string{"DDD", "EEE"}, got)

	got = ParseRows([][]string{{}, {""}, {"FFF"}, {"GGG", "z"}, {" FFF"}}, model.NewCodeSet("GGG"))
	assert.Equal(t, []string{"FFF", " FFF"}, got)

	got = ParseRows([][]string{{"   ", "x"}, {"\t"}, {"AAA"}, {" \r\n "}}, nil)
	assert.Equal(t, []string{"AAA"}, got)
}

func TestReadRows(t *testing.T) {
	rows, err := ReadRows(strings.NewReader("Code,Associated ID\nAAA,12\nBBB\n\"C,C\",\n"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Code", "Associated ID"},
		{"AAA", "12"},
		{"BBB"},
		{"C,C", ""},
	}, rows)

	assert.Equal(t, []string{"Code", "AAA", "BBB", "C,C"}, ParseRows(rows, nil))
}

func TestReadRowsBlankFirstField(t *testing.T) {
	rows, err := ReadRows(strings.NewReader("  ,12\n\t\nAAA,7\n\" \",\n"))
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, []string{"AAA"}, ParseRows(rows, nil))
}

func TestReadRowsEmpty(t *testing.T) {
	rows, err := ReadRows(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFilter(t *testing.T) {
	got := Filter([]string{"AAA", "", "BBB", "AAA", "CCC"}, model.NewCodeSet("CCC"))
	assert.Equal(t, []string{"AAA", "BBB"}, got)

	got = Filter([]string{" ", "\t\n", " AAA ", "AAA"}, nil)
	assert.Equal(t, []string{" AAA ", "AAA"}, got)
}
