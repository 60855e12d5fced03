package challenge

import (
	"testing"

	"github.com/programandonocosmos/cashtools-api/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected map[string]string
	}{
		{
			name:     "simple pairs",
			header:   "a=1, b=2, c=3",
			expected: map[string]string{"a": "1", "b": "2", "c": "3"},
		},
		{
			name:   "provider challenge",
			header: `device-authorization encrypted-code="abc+/==", sent-to="j***@example.com"`,
			expected: map[string]string{
				"device-authorization_encrypted-code": "abc+/==",
				"sent-to":                             "j***@example.com",
			},
		},
		{
			name:     "spaces inside value",
			header:   `label="two words"`,
			expected: map[string]string{"label": "two_words"},
		},
		{
			name:     "empty value",
			header:   "a=",
			expected: map[string]string{"a": ""},
		},
		{
			name:     "lone quote kept",
			header:   `a="`,
			expected: map[string]string{"a": `"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := Parse(tt.header)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, fields)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, header := range []string{"a=1,bad", "", "a=1,", "nothing here"} {
		_, err := Parse(header)
		require.ErrorIs(t, err, interfaces.ErrMalformedChallengeHeader, "header %q", header)

		var respErr *interfaces.ResponseError
		require.ErrorAs(t, err, &respErr)
		assert.Equal(t, header, respErr.Body)
	}
}

func TestExtract(t *testing.T) {
	state, err := Extract(`device-authorization encrypted-code="c2VhbGVk", sent-to="+55 ** ****-1234"`)
	require.NoError(t, err)
	assert.Equal(t, "c2VhbGVk", state.EncryptedCode)
	assert.Equal(t, "+55_**_****-1234", state.SentTo)
}

func TestExtract_MissingFields(t *testing.T) {
	header := `device-authorization encrypted-code="abc"`

	_, err := Extract(header)
	require.ErrorIs(t, err, interfaces.ErrChallengeFieldsMissing)

	var respErr *interfaces.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, header, respErr.Body)
	assert.Equal(t, []string{"sent-to"}, respErr.Missing)

	_, err = Extract("a=1, b=2")
	require.ErrorAs(t, err, &respErr)
	assert.Len(t, respErr.Missing, 2)
}
