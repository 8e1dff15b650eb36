package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionIsNeverEmpty(t *testing.T) {
	assert.NotEmpty(t, Version())
}
