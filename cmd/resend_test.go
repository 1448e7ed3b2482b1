package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResendCommandExposesContactMethod(t *testing.T) {
	c := newResendCmd()
	assert.Equal(t, "resend", c.Name())

	flag := c.Flags().Lookup("method")
	require.NotNil(t, flag)
	assert.Equal(t, "email", flag.DefValue)
}
