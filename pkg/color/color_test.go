package color

import (
	"testing"

	fcolor "github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	assert.Same(t, For("backend-engineer"), For("backend-engineer"))

	seen := map[*fcolor.Color]bool{}
	for _, k := range []string{"architect", "backend-engineer", "frontend-engineer", "tech-writer", "qa-reviewer", "scope-guardian"} {
		seen[For(k)] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestPrefix(t *testing.T) {
	fcolor.NoColor = true
	assert.Equal(t, "[api]", Prefix("api"))
}
