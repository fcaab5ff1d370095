package shrinker

import (
	"context"

	apperrors "github.com/class-shrinker/pkg/errors"
)

// Request describes one shrink invocation from a build.
type Request struct {
	Layout    *Layout
	Libraries []string
	Rules     RuleSet

	// Incremental enables incremental runs and persisting the graph.
	Incremental bool
	// Changes lists the program files changed since the last run. A nil
	// map means the changes are unknown.
	Changes map[string]FileStatus
	// LibrariesChanged reports a change to any library input.
	LibrariesChanged bool
}

// Transform runs incrementally when that is enabled, the changed program
// files are known and no library changed. An incremental run that turns
// out to be impossible, or finds no usable persisted graph, falls back to a
// full run.
func (s *Shrinker) Transform(ctx context.Context, req Request) (*Result, error) {
	if reason := s.fullRunReason(req); reason != "" {
		s.logger.Info("Running full shrink: %s", reason)
		return s.run(ctx, req.Layout, req.Libraries, req.Rules, req.Incremental, reason)
	}

	res, err := s.HandleFileChanges(ctx, req.Layout, req.Changes, req.Rules)
	if err == nil {
		return res, nil
	}
	if !apperrors.IsIncrementalImpossible(err) && !apperrors.IsStaleState(err) {
		return nil, err
	}

	s.logger.Warn("Incremental shrink impossible, running full shrink: %v", err)
	return s.run(ctx, req.Layout, req.Libraries, req.Rules, true, apperrors.GetErrorMessage(err))
}

func (s *Shrinker) fullRunReason(req Request) string {
	switch {
	case !req.Incremental:
		return "incremental mode disabled"
	case req.Changes == nil:
		return "changed files unknown"
	case req.LibrariesChanged:
		return "library inputs changed"
	case s.state == nil:
		return "no state store configured"
	default:
		return ""
	}
}
