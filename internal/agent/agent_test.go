package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoster(t *testing.T) {
	assert.Len(t, All(), 3)
	assert.Equal(t, "kami", Default().ID)
	assert.True(t, Known("eric"))
	assert.False(t, Known("nobody"))

	a, ok := Lookup("kid")
	assert.True(t, ok)
	assert.Equal(t, "Work Assistant", a.Role)

	all := All()
	all[0].Name = "changed"
	assert.Equal(t, "Kami", Default().Name)
}
