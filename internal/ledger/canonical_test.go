package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeysAtEveryDepth(t *testing.T) {
	doc := map[string]any{
		"zeta": 1,
		"alpha": map[string]any{
			"b": true,
			"a": nil,
		},
		"mid": []any{map[string]any{"y": 2, "x": 1}},
	}
	got, err := Canonicalize(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":null,"b":true},"mid":[{"x":1,"y":2}],"zeta":1}`, string(got))
}

func TestCanonicalizeDeterministic(t *testing.T) {
	a := map[string]any{"k1": "v", "k2": []any{1, 2, 3}}
	b := map[string]any{"k2": []any{1, 2, 3}, "k1": "v"}
	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}

func TestCanonicalizeNoHTMLEscaping(t *testing.T) {
	got, err := Canonicalize(map[string]any{"cp_name": "A & B <signup>"})
	require.NoError(t, err)
	assert.Equal(t, `{"cp_name":"A & B <signup>"}`, string(got))
}

func TestStripSecured(t *testing.T) {
	doc := map[string]any{
		"_id":                "x",
		"canonical_record":   "x",
		"data_hash":          "x",
		"prev_record_hash":   "x",
		"record_hash":        "x",
		"signature":          "x",
		"signed_with_key_id": "x",
		"agreement_id":       "agr-1",
	}
	StripSecured(doc)
	assert.Equal(t, map[string]any{"agreement_id": "agr-1"}, doc)
}

func TestHashHex(t *testing.T) {
	// SHA-256("") is a fixed vector
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashHex(nil))
}
