package attrs_test

import (
	"testing"

	"github.com/bramblehttp/httpconn/attrs"
	"github.com/stretchr/testify/assert"
)

func TestAttributes(t *testing.T) {
	t.Parallel()

	var testAttribute1 = attrs.NewKey[string]()
	var testAttribute2 = attrs.NewKey[string]()
	var testAttribute3 = attrs.NewKey[string]()

	attributes := attrs.New(
		testAttribute1.Value("attr value 1"),
		testAttribute2.Value("attr value 2"),
		testAttribute1.Value("attr value 3"),
	)

	// Attribute value overwritten by key re-appearing later
	value, ok := attrs.GetValue(attributes, testAttribute1)
	assert.True(t, ok)
	assert.Equal(t, "attr value 3", value)

	// Normal attribute value
	value, ok = attrs.GetValue(attributes, testAttribute2)
	assert.True(t, ok)
	assert.Equal(t, "attr value 2", value)

	// Attribute key not set
	value, ok = attrs.GetValue(attributes, testAttribute3)
	assert.False(t, ok)
	assert.Equal(t, "", value)
}
