package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{"read cell", Request{Op: OpReadCell, File: "a.xlsx", Cell: "B2"}, ""},
		{"read cell without cell", Request{Op: OpReadCell, File: "a.xlsx"}, "read_cell requires cell"},
		{"read range", Request{Op: OpReadRange, File: "a.xlsx", Cell: "A1", EndCell: "C3"}, ""},
		{"read range without end", Request{Op: OpReadRange, File: "a.xlsx", Cell: "A1"}, "requires end_cell"},
		{"write formula without value", Request{Op: OpWriteFormula, File: "a.xlsx", Cell: "A1"}, "requires value"},
		{"write cell with empty value", Request{Op: OpWriteCell, File: "a.xlsx", Cell: "A1"}, ""},
		{"create sheet", Request{Op: OpCreateSheet, File: "a.xlsx"}, "requires sheet"},
		{"run query", Request{Op: OpRunQuery, File: "db.sqlite", Query: "SELECT 1"}, ""},
		{"list files", Request{Op: OpListFiles}, ""},
		{"missing op", Request{}, "missing op"},
		{"unknown op", Request{Op: "drop_everything"}, "unknown op"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	req := Request{Op: OpWriteFormula, File: "report.xlsx", Sheet: "Data", Cell: "C1", Value: "=A1+B1"}

	arg, err := req.Encode()
	require.NoError(t, err)
	assert.Contains(t, arg, `"op":"write_formula"`)
	assert.NotContains(t, arg, "query")

	decoded, err := DecodeRequest(arg)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)

	_, err = DecodeRequest("{not json")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
