package shrinker

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync/atomic"

	"github.com/class-shrinker/internal/classfile"
	"github.com/class-shrinker/internal/graph"
	apperrors "github.com/class-shrinker/pkg/errors"
	"github.com/class-shrinker/pkg/parallel"
	"github.com/class-shrinker/pkg/utils"
	"github.com/class-shrinker/pkg/writer"
)

// WriteStats counts the outcome of an output pass.
type WriteStats struct {
	Written int64
	Deleted int64
	Skipped int64
}

// Writer emits the shrunk program classes of TargetShrink.
type Writer struct {
	store  *graph.Store
	layout *Layout
	pool   parallel.PoolConfig
	logger utils.Logger
}

// NewWriter creates a writer.
func NewWriter(store *graph.Store, layout *Layout, pool parallel.PoolConfig, logger utils.Logger) *Writer {
	return &Writer{store: store, layout: layout, pool: pool, logger: utils.OrNull(logger)}
}

// WriteAll writes or deletes the output of every class in parallel.
func (w *Writer) WriteAll(ctx context.Context, classes []*ProgramClass) (WriteStats, error) {
	var written, deleted, skipped atomic.Int64
	err := parallel.ForEach(ctx, classes, w.pool, func(ctx context.Context, pc *ProgramClass) error {
		res, err := w.writeClass(pc)
		if err != nil {
			return err
		}
		switch res {
		case outputWritten:
			written.Add(1)
		case outputDeleted:
			deleted.Add(1)
		default:
			skipped.Add(1)
		}
		return nil
	})
	return WriteStats{Written: written.Load(), Deleted: deleted.Load(), Skipped: skipped.Load()}, err
}

type outputResult int

const (
	outputSkipped outputResult = iota
	outputWritten
	outputDeleted
)

// writeClass rewrites a kept class to its output location, or deletes the
// output of a class that is no longer kept. Classes outside the layout are
// skipped.
func (w *Writer) writeClass(pc *ProgramClass) (outputResult, error) {
	out, ok := w.layout.OutputFor(pc.File)
	if !ok {
		w.logger.Debug("No output location for %s", pc.File)
		return outputSkipped, nil
	}
	if !w.store.KeepClass(pc.Class.Name, graph.TargetShrink) {
		deleted, err := deleteOutput(out)
		if err != nil || !deleted {
			return outputSkipped, err
		}
		return outputDeleted, nil
	}

	data := pc.Class.Rewrite(w.filter(pc.Class.Name))
	if err := writer.WriteBytes(out, data); err != nil {
		return outputSkipped, apperrors.Wrap(apperrors.CodeIOError, "failed to write "+out, err)
	}
	return outputWritten, nil
}

func (w *Writer) filter(class string) classfile.Filter {
	keepMember := func(m *classfile.Member) bool {
		return w.store.IsReachable(graph.Member{Class: class, Name: m.Name, Desc: m.Desc}, graph.TargetShrink)
	}
	return classfile.Filter{
		KeepField:  keepMember,
		KeepMethod: keepMember,
		KeepInterface: func(name string) bool {
			return w.store.KeepClass(name, graph.TargetShrink)
		},
	}
}

// DeleteOutput removes the output of an input file, if it has one.
func (w *Writer) DeleteOutput(file string) error {
	out, ok := w.layout.OutputFor(file)
	if !ok {
		return nil
	}
	_, err := deleteOutput(out)
	return err
}

func deleteOutput(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CodeIOError, "failed to delete "+path, err)
}

// WriteMainDexList writes the classes kept for TargetLegacyMultidex, one
// class file name per line.
func WriteMainDexList(store *graph.Store, path string) (int, error) {
	classes := store.ClassesToKeep(graph.TargetLegacyMultidex)
	err := writer.WriteAtomic(path, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		for _, name := range classes {
			bw.WriteString(name)
			bw.WriteString(".class\n")
		}
		return bw.Flush()
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeIOError, "failed to write main dex list", err)
	}
	return len(classes), nil
}
