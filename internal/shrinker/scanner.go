package shrinker

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/class-shrinker/internal/classfile"
	"github.com/class-shrinker/internal/graph"
	apperrors "github.com/class-shrinker/pkg/errors"
	"github.com/class-shrinker/pkg/parallel"
	"github.com/class-shrinker/pkg/utils"
)

const scanProgressInterval = 2 * time.Second

// ProgramClass is a decoded program class and the file it was read from.
type ProgramClass struct {
	Class *classfile.Class
	File  string
}

// Scanner registers classes and their declared members in a graph store.
// It adds no edges.
type Scanner struct {
	store  *graph.Store
	logger utils.Logger
	pool   parallel.PoolConfig

	mu      sync.Mutex
	program map[string]*ProgramClass
}

// NewScanner creates a scanner writing into store.
func NewScanner(store *graph.Store, pool parallel.PoolConfig, logger utils.Logger) *Scanner {
	return &Scanner{
		store:   store,
		logger:  utils.OrNull(logger),
		pool:    pool,
		program: make(map[string]*ProgramClass),
	}
}

// ScanProgram decodes and registers program class files. A malformed or
// duplicate class fails the whole phase.
func (s *Scanner) ScanProgram(ctx context.Context, files []string) error {
	progress := parallel.NewProgressTracker(int64(len(files)), func(completed, total int64) {
		s.logger.Debug("Scanned %d/%d program classes", completed, total)
	}, scanProgressInterval)
	progress.Start(ctx)
	defer progress.Stop()

	exec := parallel.NewExecutor(ctx, s.pool)
	for _, file := range files {
		file := file
		exec.Go(func(ctx context.Context) error {
			_, err := s.ScanProgramFile(file)
			progress.Increment()
			return err
		})
	}
	return exec.Wait()
}

// ScanProgramFile decodes one program class file and registers it.
func (s *Scanner) ScanProgramFile(file string) (*ProgramClass, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIOError, "failed to read "+file, err)
	}
	c, err := classfile.Decode(data, classfile.DecodeFull)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeParseError, "failed to decode "+file, err)
	}

	pc := &ProgramClass{Class: c, File: file}
	s.mu.Lock()
	if prev, dup := s.program[c.Name]; dup {
		s.mu.Unlock()
		return nil, apperrors.Newf(apperrors.CodeInvalidInput,
			"class %s defined by both %s and %s", c.Name, prev.File, file)
	}
	s.program[c.Name] = pc
	s.mu.Unlock()

	if err := registerClass(s.store, c, false, file); err != nil {
		return nil, err
	}
	return pc, nil
}

// ScanLibraries registers the classes of library jars and directories.
// Program classes must be scanned first: a library class shadowed by a
// program class is ignored. Malformed library classes are logged and
// skipped.
func (s *Scanner) ScanLibraries(ctx context.Context, paths []string) error {
	exec := parallel.NewExecutor(ctx, s.pool)
	for _, path := range paths {
		path := path
		exec.Go(func(ctx context.Context) error {
			return s.scanLibrary(ctx, path)
		})
	}
	return exec.Wait()
}

func (s *Scanner) scanLibrary(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "failed to open library "+path, err)
	}
	if info.IsDir() {
		return filepath.WalkDir(path, func(file string, d fs.DirEntry, err error) error {
			if err != nil {
				return apperrors.Wrap(apperrors.CodeIOError, "failed to walk library "+path, err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !strings.HasSuffix(file, ".class") {
				return nil
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeIOError, "failed to read "+file, err)
			}
			s.scanLibraryClass(file, data)
			return nil
		})
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "failed to open jar "+path, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isClassEntry(f.Name) {
			continue
		}
		data, err := readZipEntry(f)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeIOError, "failed to read "+path+"!"+f.Name, err)
		}
		s.scanLibraryClass(path+"!"+f.Name, data)
	}
	return nil
}

func isClassEntry(name string) bool {
	return strings.HasSuffix(name, ".class") &&
		!strings.HasPrefix(name, "META-INF/") &&
		!strings.HasSuffix(name, "module-info.class")
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Scanner) scanLibraryClass(origin string, data []byte) {
	c, err := classfile.Decode(data, classfile.DecodeSkipCode)
	if err != nil {
		s.logger.Warn("Skipping malformed library class %s: %v", origin, err)
		return
	}
	if s.store.IsProgramClass(c.Name) {
		return
	}
	if err := registerClass(s.store, c, true, ""); err != nil {
		s.logger.Warn("Skipping library class %s: %v", origin, err)
	}
}

func registerClass(store *graph.Store, c *classfile.Class, library bool, file string) error {
	if _, err := store.AddClass(c.Name, c.SuperName, c.Interfaces, library, file); err != nil {
		return err
	}
	for _, f := range c.Fields {
		if _, err := store.AddMember(c.Name, f.Name, f.Desc); err != nil {
			return err
		}
	}
	for _, m := range c.Methods {
		if _, err := store.AddMember(c.Name, m.Name, m.Desc); err != nil {
			return err
		}
	}
	return nil
}

// Program returns the scanned program classes ordered by name.
func (s *Scanner) Program() []*ProgramClass {
	s.mu.Lock()
	out := make([]*ProgramClass, 0, len(s.program))
	for _, pc := range s.program {
		out = append(out, pc)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Class.Name < out[j].Class.Name })
	return out
}

// Lookup returns the decoded program class name, if it was scanned.
func (s *Scanner) Lookup(name string) (*ProgramClass, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.program[name]
	return pc, ok
}
