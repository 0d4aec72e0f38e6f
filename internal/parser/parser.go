// Package parser turns pasted text and uploaded delimited files into candidate codes.
//
// Codes are taken verbatim: input is split into tokens but never trimmed,
// case-folded or otherwise normalized.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kkkkikiki/couponcodes/internal/model"
)

// ParseText splits input on any run of ASCII whitespace and commas and returns the
// distinct tokens not contained in ignore, in order of first occurrence.
func ParseText(input string, ignore model.CodeSet) []string {
	tokens := strings.FieldsFunc(input, isSeparator)
	return Filter(tokens, ignore)
}

// ParseRows takes the first field of every row as a candidate code and drops
// the rest of the row. Fields are used verbatim; blank ones are skipped.
func ParseRows(rows [][]string, ignore model.CodeSet) []string {
	tokens := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		tokens = append(tokens, row[0])
	}
	return Filter(tokens, ignore)
}

// ReadRows reads delimited records from r. Rows may have differing field counts.
func ReadRows(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed delimited input: %w", model.ErrInvalidInput, err)
		}
		rows = append(rows, record)
	}
}

// isSeparator matches commas and ASCII whitespace only. Unicode spaces such
// as U+00A0 stay part of the code.
func isSeparator(r rune) bool {
	switch r {
	case ',', ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// Filter returns the distinct non-blank tokens not contained in ignore,
// in order of first occurrence. Tokens are kept as given.
func Filter(tokens []string, ignore model.CodeSet) []string {
	codes := make([]string, 0, len(tokens))
	seen := make(model.CodeSet, len(tokens))
	for _, token := range tokens {
		if strings.TrimSpace(token) == "" || ignore.Has(token) || seen.Has(token) {
			continue
		}
		seen.Add(token)
		codes = append(codes, token)
	}
	return codes
}
