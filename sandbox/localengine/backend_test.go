package localengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPath(t *testing.T) {
	cases := []struct {
		in       string
		wantDir  string
		wantName string
	}{
		{"/sandbox/out.png", "/sandbox", "out.png"},
		{"/out.png", "/", "out.png"},
		{"out.png", ".", "out.png"},
	}
	for _, c := range cases {
		dir, name := splitPath(c.in)
		assert.Equal(t, c.wantDir, dir, c.in)
		assert.Equal(t, c.wantName, name, c.in)
	}
}

func TestAsHandleRejectsForeignHandle(t *testing.T) {
	_, err := asHandle(nil)
	assert.Error(t, err)
}
