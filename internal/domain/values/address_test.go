package values

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
)

func TestNewAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{name: "plain", input: "guardian-1", want: "guardian-1"},
		{name: "hex style", input: "0xAbC123", want: "0xAbC123"},
		{name: "surrounding spaces trimmed", input: "  acct  ", want: "acct"},
		{name: "empty", input: "", wantErr: true},
		{name: "blank", input: "   ", wantErr: true},
		{name: "inner space", input: "two words", wantErr: true},
		{name: "control character", input: "a\x00b", wantErr: true},
		{name: "too long", input: strings.Repeat("a", 129), wantErr: true},
		{name: "max length", input: strings.Repeat("a", 128), want: Address(strings.Repeat("a", 128))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewAddress(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddress_UnmarshalJSONValidates(t *testing.T) {
	var a Address
	require.NoError(t, json.Unmarshal([]byte(`"guardian-1"`), &a))
	assert.Equal(t, Address("guardian-1"), a)

	assert.Error(t, json.Unmarshal([]byte(`"has space"`), &a))
	assert.Error(t, json.Unmarshal([]byte(`42`), &a))
}

func TestAddressSet(t *testing.T) {
	s := NewAddressSet("c", "a")
	s.Add("b")
	s.Add("a")

	assert.Len(t, s, 3)
	assert.True(t, s.Contains("b"))
	assert.False(t, s.Contains("d"))
	assert.Equal(t, []Address{"a", "b", "c"}, s.Slice())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b","c"]`, string(data))

	var decoded AddressSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s, decoded)
}
