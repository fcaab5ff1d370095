package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/internal/keep"
	"github.com/class-shrinker/pkg/config"
)

func TestBuildRules(t *testing.T) {
	t.Run("NoRules", func(t *testing.T) {
		rules, err := BuildRules(&config.KeepConfig{})
		require.NoError(t, err)
		assert.Empty(t, rules)
	})

	t.Run("InlineAndFiles", func(t *testing.T) {
		dir := t.TempDir()
		pro := filepath.Join(dir, "main-dex.pro")
		require.NoError(t, os.WriteFile(pro, []byte("-keep class app.Application\n"), 0644))

		rules, err := BuildRules(&config.KeepConfig{
			Rules:              []string{mainRule, "-keep class app.Api"},
			MainDexConfigFiles: []string{pro},
			CacheSize:          8,
		})
		require.NoError(t, err)
		require.Len(t, rules, 2)

		shrink, ok := rules[graph.TargetShrink].(*keep.Matcher)
		require.True(t, ok)
		assert.Equal(t, 2, shrink.Len())

		mainDex, ok := rules[graph.TargetLegacyMultidex].(*keep.Matcher)
		require.True(t, ok)
		assert.Equal(t, 1, mainDex.Len())
	})

	t.Run("InvalidRule", func(t *testing.T) {
		_, err := BuildRules(&config.KeepConfig{Rules: []string{"-keep class {"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load keep rules")
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := BuildRules(&config.KeepConfig{MainDexConfigFiles: []string{"/nonexistent/main.pro"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load main dex rules")
	})
}
