package service

import (
	"fmt"
	"strings"

	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/internal/keep"
	"github.com/class-shrinker/internal/shrinker"
	"github.com/class-shrinker/pkg/config"
)

// BuildRules compiles the keep configuration into one matcher per shrink
// target. A target without any configured rule is left out and not
// computed.
func BuildRules(cfg *config.KeepConfig) (shrinker.RuleSet, error) {
	rules := make(shrinker.RuleSet)

	shrink, err := compileTarget(cfg.ConfigFiles, cfg.Rules, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load keep rules: %w", err)
	}
	if shrink != nil {
		rules[graph.TargetShrink] = shrink
	}

	mainDex, err := compileTarget(cfg.MainDexConfigFiles, cfg.MainDexRules, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load main dex rules: %w", err)
	}
	if mainDex != nil {
		rules[graph.TargetLegacyMultidex] = mainDex
	}

	return rules, nil
}

func compileTarget(files, inline []string, cacheSize int) (*keep.Matcher, error) {
	if len(files) == 0 && len(inline) == 0 {
		return nil, nil
	}

	cfg, err := keep.ParseFiles(files...)
	if err != nil {
		return nil, err
	}
	if len(inline) > 0 {
		extra, err := keep.Parse("inline rules", strings.Join(inline, "\n"))
		if err != nil {
			return nil, err
		}
		cfg.Merge(extra)
	}

	return keep.NewMatcher(cfg, cacheSize)
}
