package graph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/class-shrinker/pkg/compression"
	apperrors "github.com/class-shrinker/pkg/errors"
)

const (
	stateMagic   = "SHRG"
	stateVersion = 1
)

// Top-level record numbers. Nodes come first since the other records
// reference them by id.
const (
	recNode  protowire.Number = 1
	recClass protowire.Number = 2
	recEdges protowire.Number = 3
	recSeeds protowire.Number = 4
)

// StateStore is the object storage the graph is persisted to.
type StateStore interface {
	Upload(ctx context.Context, key string, reader io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// existenceChecker is implemented by state stores that can tell a missing
// key apart from a failed download.
type existenceChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Save writes the whole graph, counters and seeds included, under key.
func (s *Store) Save(ctx context.Context, st StateStore, key string) error {
	var buf bytes.Buffer
	if err := s.WriteTo(&buf, compression.TypeZstd); err != nil {
		return err
	}
	if err := st.Upload(ctx, key, &buf); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to upload graph state", err)
	}
	return nil
}

// Load reads a graph previously written by Save. A missing, foreign or
// outdated state yields an error matching apperrors.ErrStaleState.
func Load(ctx context.Context, st StateStore, key string, opts ...StoreOption) (*Store, error) {
	if ec, ok := st.(existenceChecker); ok {
		exists, err := ec.Exists(ctx, key)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStaleState, "failed to look up graph state", err)
		}
		if !exists {
			return nil, apperrors.Newf(apperrors.CodeStaleState, "no graph state stored at %s", key)
		}
	}
	rc, err := st.Download(ctx, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStaleState, "failed to download graph state", err)
	}
	defer rc.Close()
	return ReadFrom(rc, opts...)
}

// RemoveStoredState deletes a persisted graph. A full run calls it before
// touching any output so an interrupted run never leaves a stale state
// behind.
func RemoveStoredState(ctx context.Context, st StateStore, key string) error {
	if err := st.Delete(ctx, key); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to remove graph state", err)
	}
	return nil
}

// WriteTo serializes the graph to w.
func (s *Store) WriteTo(w io.Writer, ct compression.Type) error {
	if _, err := w.Write(append([]byte(stateMagic), stateVersion, byte(ct))); err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "failed to write state header", err)
	}
	zw, err := compression.NewWriter(w, ct)
	if err != nil {
		return err
	}

	s.mu.RLock()
	nodes := append([]*node(nil), s.byID...)
	classes := make([]*classInfo, 0, len(s.classes))
	for _, name := range sortedKeys(s.classes) {
		classes = append(classes, s.classes[name])
	}
	ids := make(map[Member]int, len(s.nodes))
	for m, n := range s.nodes {
		ids[m] = n.id
	}
	s.mu.RUnlock()

	var rec []byte
	emit := func(num protowire.Number, msg []byte) error {
		rec = protowire.AppendTag(rec[:0], num, protowire.BytesType)
		rec = protowire.AppendBytes(rec, msg)
		_, err := zw.Write(rec)
		return err
	}

	var msg []byte
	for _, n := range nodes {
		n.mu.Lock()
		msg = appendNode(msg[:0], n)
		n.mu.Unlock()
		if err := emit(recNode, msg); err != nil {
			return apperrors.Wrap(apperrors.CodeIOError, "failed to write node", err)
		}
	}
	for _, ci := range classes {
		msg = appendClass(msg[:0], ci, ids)
		if err := emit(recClass, msg); err != nil {
			return apperrors.Wrap(apperrors.CodeIOError, "failed to write class", err)
		}
	}
	for _, n := range nodes {
		n.mu.Lock()
		deps := n.snapshot()
		n.mu.Unlock()
		if len(deps) == 0 {
			continue
		}
		sortDependencies(deps)
		msg = protowire.AppendTag(msg[:0], 1, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(n.id))
		var packed []byte
		for _, d := range deps {
			packed = protowire.AppendVarint(packed, uint64(ids[d.Target]))
			packed = protowire.AppendVarint(packed, uint64(d.Type))
		}
		msg = protowire.AppendTag(msg, 2, protowire.BytesType)
		msg = protowire.AppendBytes(msg, packed)
		if err := emit(recEdges, msg); err != nil {
			return apperrors.Wrap(apperrors.CodeIOError, "failed to write edges", err)
		}
	}
	for _, t := range AllTargets {
		var packed []byte
		for _, m := range s.Seeds(t) {
			packed = protowire.AppendVarint(packed, uint64(ids[m]))
		}
		msg = protowire.AppendTag(msg[:0], 1, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(t))
		msg = protowire.AppendTag(msg, 2, protowire.BytesType)
		msg = protowire.AppendBytes(msg, packed)
		if err := emit(recSeeds, msg); err != nil {
			return apperrors.Wrap(apperrors.CodeIOError, "failed to write seeds", err)
		}
	}

	if err := zw.Close(); err != nil {
		return apperrors.Wrap(apperrors.CodeIOError, "failed to flush state", err)
	}
	return nil
}

func appendNode(b []byte, n *node) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, n.member.Class)
	if n.member.Name != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, n.member.Name)
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, n.member.Desc)
	}
	if n.declared {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	var packed []byte
	for _, c := range n.counters {
		for _, v := range c {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
	}
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendClass(b []byte, ci *classInfo, ids map[Member]int) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, ci.name)
	if ci.super != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, ci.super)
	}
	for _, iface := range ci.interfaces {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, iface)
	}
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(ci.library))
	if ci.file != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, ci.file)
	}
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(ci.removed))
	var packed []byte
	for _, m := range ci.members {
		packed = protowire.AppendVarint(packed, uint64(ids[m]))
	}
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// ReadFrom deserializes a graph written by WriteTo.
func ReadFrom(r io.Reader, opts ...StoreOption) (*Store, error) {
	header := make([]byte, len(stateMagic)+2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStaleState, "failed to read state header", err)
	}
	if string(header[:len(stateMagic)]) != stateMagic {
		return nil, apperrors.New(apperrors.CodeStaleState, "not a graph state file")
	}
	if v := header[len(stateMagic)]; v != stateVersion {
		return nil, apperrors.Newf(apperrors.CodeStaleState, "unsupported state version %d", v)
	}

	zr, err := compression.NewReader(r, compression.Type(header[len(stateMagic)+1]))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStaleState, "failed to open state body", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStaleState, "failed to decompress state", err)
	}

	s := NewStore(opts...)
	if err := s.decodeRecords(data); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStaleState, "corrupt graph state", err)
	}
	return s, nil
}

func (s *Store) decodeRecords(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return fmt.Errorf("record %d has wire type %d", num, typ)
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case recNode:
			err = s.decodeNode(msg)
		case recClass:
			err = s.decodeClass(msg)
		case recEdges:
			err = s.decodeEdges(msg)
		case recSeeds:
			err = s.decodeSeeds(msg)
		default:
			err = fmt.Errorf("unknown record %d", num)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// fields walks the fields of one message.
func fields(b []byte, fn func(num protowire.Number, v uint64, bs []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var v uint64
		var bs []byte
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			bs, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, v, bs); err != nil {
			return err
		}
	}
	return nil
}

func varints(b []byte) ([]uint64, error) {
	var out []uint64
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

func (s *Store) nodeByID(id uint64) (*node, error) {
	if id >= uint64(len(s.byID)) {
		return nil, fmt.Errorf("node id %d out of range", id)
	}
	return s.byID[id], nil
}

func (s *Store) decodeNode(msg []byte) error {
	var m Member
	var declared bool
	var counters []uint64
	err := fields(msg, func(num protowire.Number, v uint64, bs []byte) error {
		var err error
		switch num {
		case 1:
			m.Class = string(bs)
		case 2:
			m.Name = string(bs)
		case 3:
			m.Desc = string(bs)
		case 4:
			declared = protowire.DecodeBool(v)
		case 5:
			counters, err = varints(bs)
		}
		return err
	})
	if err != nil {
		return err
	}
	if len(counters) != numTargets*numDependencyTypes {
		return fmt.Errorf("node %s has %d counters", m, len(counters))
	}
	if _, dup := s.nodes[m]; dup {
		return fmt.Errorf("duplicate node %s", m)
	}
	n := s.internLocked(m, declared)
	for i, v := range counters {
		n.counters[i/numDependencyTypes][i%numDependencyTypes] = int32(v)
	}
	return nil
}

func (s *Store) decodeClass(msg []byte) error {
	ci := &classInfo{}
	var memberIDs []uint64
	err := fields(msg, func(num protowire.Number, v uint64, bs []byte) error {
		var err error
		switch num {
		case 1:
			ci.name = string(bs)
		case 2:
			ci.super = string(bs)
		case 3:
			ci.interfaces = append(ci.interfaces, string(bs))
		case 4:
			ci.library = protowire.DecodeBool(v)
		case 5:
			ci.file = string(bs)
		case 6:
			ci.removed = protowire.DecodeBool(v)
		case 7:
			memberIDs, err = varints(bs)
		}
		return err
	})
	if err != nil {
		return err
	}
	for _, id := range memberIDs {
		n, err := s.nodeByID(id)
		if err != nil {
			return err
		}
		ci.members = append(ci.members, n.member)
	}
	s.classes[ci.name] = ci
	if !ci.library && !ci.removed && ci.file != "" {
		s.files[ci.file] = ci.name
	}
	return nil
}

func (s *Store) decodeEdges(msg []byte) error {
	var src uint64
	var pairs []uint64
	err := fields(msg, func(num protowire.Number, v uint64, bs []byte) error {
		var err error
		switch num {
		case 1:
			src = v
		case 2:
			pairs, err = varints(bs)
		}
		return err
	})
	if err != nil {
		return err
	}
	n, err := s.nodeByID(src)
	if err != nil {
		return err
	}
	if len(pairs)%2 != 0 {
		return fmt.Errorf("odd edge list for %s", n.member)
	}
	for i := 0; i < len(pairs); i += 2 {
		target, err := s.nodeByID(pairs[i])
		if err != nil {
			return err
		}
		if pairs[i+1] >= numDependencyTypes {
			return fmt.Errorf("edge %s -> %s has unknown type %d", n.member, target.member, pairs[i+1])
		}
		n.deps[Dependency{Target: target.member, Type: DependencyType(pairs[i+1])}] = struct{}{}
	}
	return nil
}

func (s *Store) decodeSeeds(msg []byte) error {
	var target uint64
	var ids []uint64
	err := fields(msg, func(num protowire.Number, v uint64, bs []byte) error {
		var err error
		switch num {
		case 1:
			target = v
		case 2:
			ids, err = varints(bs)
		}
		return err
	})
	if err != nil {
		return err
	}
	if target >= numTargets {
		return fmt.Errorf("unknown shrink target %d", target)
	}
	for _, id := range ids {
		n, err := s.nodeByID(id)
		if err != nil {
			return err
		}
		s.seeds[target][n.member] = struct{}{}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
