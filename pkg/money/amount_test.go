package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"2", 20000},
		{"2.00", 20000},
		{"0.5", 5000},
		{"0.0033", 33},
		{"-1.25", -12500},
		{" 10.1234 ", 101234},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseRejects(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Parse("abc")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Parse("0.00001")
	assert.ErrorIs(t, err, ErrTooPrecise)

	for _, in := range []string{"1/2", "1e3", "0x10", "1.2.3", "-", "."} {
		_, err = Parse(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "2.0000", Amount(20000).String())
	assert.Equal(t, "0.0033", Amount(33).String())
	assert.Equal(t, "-0.4033", Amount(-4033).String())
	assert.Equal(t, "0.0000", Amount(0).String())
}

func TestJSON(t *testing.T) {
	type payload struct {
		Amount Amount `json:"amount"`
	}

	out, err := json.Marshal(payload{Amount: 12500})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"1.2500"}`, string(out))

	var fromString payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"10.00"}`), &fromString))
	assert.Equal(t, Amount(100000), fromString.Amount)

	var fromNumber payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":0.5}`), &fromNumber))
	assert.Equal(t, Amount(5000), fromNumber.Amount)

	var bad payload
	assert.Error(t, json.Unmarshal([]byte(`{"amount":"1.000001"}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"amount":"1/2"}`), &bad))
}
