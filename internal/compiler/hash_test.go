package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashsum_Deterministic(t *testing.T) {
	payload := map[string]any{"b": 2, "a": 1, "c": []string{"x", "y"}}
	first := Hashsum(payload)
	second := Hashsum(map[string]any{"c": []string{"x", "y"}, "a": 1, "b": 2})

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestHashsum_SensitiveToContent(t *testing.T) {
	a := Hashsum(map[string]any{"k": "v1"})
	b := Hashsum(map[string]any{"k": "v2"})
	assert.NotEqual(t, a, b)
}

func TestCompiledBinding_HashsumExcludesItself(t *testing.T) {
	cb := &CompiledBinding{
		RuleBindingID: "T1_DQ_1",
		TableID:       "p.d.t",
		ColumnName:    "value",
	}
	first := cb.computeHashsum()
	require.NotEmpty(t, first)

	// Recomputing with the hashsum field populated must not change it
	cb.Hashsum = first
	assert.Equal(t, first, cb.computeHashsum())

	// Any semantic change does change it
	cb.RowFilterSQL = "True"
	assert.NotEqual(t, first, cb.computeHashsum())
}
