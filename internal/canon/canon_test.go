package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	input := map[string]any{
		"b": 1,
		"a": "hello",
		"c": []int{2, 1, 3},
		"d": map[string]any{
			"y": "foo",
			"x": "bar",
		},
	}

	encoded, err := Encode(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"hello","b":1,"c":[2,1,3],"d":{"x":"bar","y":"foo"}}`, string(encoded))
}

func TestEncodeKeepsHTMLCharacters(t *testing.T) {
	encoded, err := Encode(map[string]string{"label": "R&D <draft>.pdf"})
	require.NoError(t, err)
	assert.Equal(t, `{"label":"R&D <draft>.pdf"}`, string(encoded))
}

func TestMergeMandatoryWins(t *testing.T) {
	extra := map[string]any{"login_hint": "+41790000000", "state": "forged"}
	mandatory := map[string]any{"state": "real", "scope": "sign ident"}

	merged := Merge(extra, mandatory)
	assert.Equal(t, "real", merged["state"])
	assert.Equal(t, "+41790000000", merged["login_hint"])
	assert.Equal(t, "sign ident", merged["scope"])
	assert.Equal(t, "forged", extra["state"], "input must not be modified")

	assert.Len(t, Merge(nil, mandatory), 2)
}
