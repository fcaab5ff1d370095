// Package report builds the per-run shrink report: the seeds matched by keep
// rules and the program classes and members that were removed.
package report

import (
	"sort"

	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/pkg/model"
	"github.com/class-shrinker/pkg/writer"
)

// Report is the document written after a successful run.
type Report struct {
	Run *model.Run `json:"run"`
	// Seeds lists the entry points per shrink target.
	Seeds map[string][]string `json:"seeds"`
	// Usage lists removed program classes, then removed members of kept
	// classes, for the shrink target.
	Usage   []string `json:"usage"`
	MainDex []string `json:"main_dex,omitempty"`
}

// Build assembles the report for run from the final graph.
func Build(run *model.Run, store *graph.Store) *Report {
	r := &Report{
		Run:   run,
		Seeds: make(map[string][]string),
		Usage: []string{},
	}
	for _, target := range graph.AllTargets {
		seeds := store.Seeds(target)
		if len(seeds) == 0 {
			continue
		}
		names := make([]string, len(seeds))
		for i, m := range seeds {
			names[i] = m.String()
		}
		sort.Strings(names)
		r.Seeds[target.String()] = names
	}

	var removedMembers []string
	for _, class := range store.ProgramClasses() {
		if store.IsRemoved(class) {
			continue
		}
		if !store.KeepClass(class, graph.TargetShrink) {
			r.Usage = append(r.Usage, class)
			continue
		}
		for _, m := range store.Members(class) {
			if !store.IsReachable(m, graph.TargetShrink) {
				removedMembers = append(removedMembers, m.String())
			}
		}
	}
	sort.Strings(removedMembers)
	r.Usage = append(r.Usage, removedMembers...)

	if len(store.Seeds(graph.TargetLegacyMultidex)) > 0 {
		r.MainDex = store.ClassesToKeep(graph.TargetLegacyMultidex)
	}
	return r
}

// Write builds the report and stores it at path. A ".gz" suffix selects
// gzip compression.
func Write(path string, run *model.Run, store *graph.Store) error {
	return writer.WriteFile(path, Build(run, store))
}
