package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumAvoidsFloatDrift(t *testing.T) {
	items := make([]Money, 0, 10)
	for range 10 {
		items = append(items, New(0.1))
	}
	assert.Equal(t, "1.00", Sum(items...).String())
	assert.Equal(t, 1.0, Sum(items...).ToFloat())
}

func TestNewFromStringTolerant(t *testing.T) {
	m, err := NewFromString(" 1,234.50 ")
	require.NoError(t, err)
	assert.Equal(t, "1234.50", m.String())

	_, err = NewFromString("abc")
	assert.Error(t, err)
}

func TestArithmetic(t *testing.T) {
	a := New(10)
	b := New(2.5)
	assert.Equal(t, "12.50", a.Add(b).String())
	assert.Equal(t, "7.50", a.Sub(b).String())
	assert.Equal(t, "25.00", a.Mul(2.5).String())
	assert.Equal(t, "4.00", a.Div(2.5).String())
	assert.True(t, a.Div(0).IsZero())
	assert.Equal(t, 1, a.Cmp(b))
	assert.True(t, b.IsPositive())
	assert.Equal(t, 6.52, RoundPrice(6.5217))
}
