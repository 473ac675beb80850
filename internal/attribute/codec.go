package attribute

import (
	"fmt"

	"github.com/xtxerr/statehist/internal/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// The serialized tree is a protobuf message with one repeated embedded
// entry per attribute, in quark order:
//
//	message Tree  { repeated Entry entries = 1; }
//	message Entry { int32 quark = 1; sint32 parent = 2; bytes name = 3; }
const (
	fieldEntries protowire.Number = 1

	fieldQuark  protowire.Number = 1
	fieldParent protowire.Number = 2
	fieldName   protowire.Number = 3
)

// MarshalBinary encodes the tree so Unmarshal reproduces every quark.
func (t *Tree) MarshalBinary() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []byte
	var entry []byte
	for q, n := range t.nodes {
		entry = entry[:0]
		entry = protowire.AppendTag(entry, fieldQuark, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(q))
		entry = protowire.AppendTag(entry, fieldParent, protowire.VarintType)
		entry = protowire.AppendVarint(entry, protowire.EncodeZigZag(int64(n.parent)))
		entry = protowire.AppendTag(entry, fieldName, protowire.BytesType)
		entry = protowire.AppendString(entry, n.name)

		out = protowire.AppendTag(out, fieldEntries, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out, nil
}

// Unmarshal rebuilds a tree from MarshalBinary output.
func Unmarshal(data []byte) (*Tree, error) {
	t := New()

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("attribute table: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num != fieldEntries || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("attribute table: %w", protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("attribute table: %w", protowire.ParseError(n))
		}
		data = data[n:]

		quark, parent, name, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		if err := t.restore(quark, parent, name); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func decodeEntry(raw []byte) (quark, parent int, name string, err error) {
	quark, parent = -2, -2
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return 0, 0, "", fmt.Errorf("attribute entry: %w", protowire.ParseError(n))
		}
		raw = raw[n:]

		switch {
		case num == fieldQuark && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return 0, 0, "", fmt.Errorf("attribute quark: %w", protowire.ParseError(n))
			}
			quark = int(v)
			raw = raw[n:]
		case num == fieldParent && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return 0, 0, "", fmt.Errorf("attribute parent: %w", protowire.ParseError(n))
			}
			parent = int(protowire.DecodeZigZag(v))
			raw = raw[n:]
		case num == fieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(raw)
			if n < 0 {
				return 0, 0, "", fmt.Errorf("attribute name: %w", protowire.ParseError(n))
			}
			name = v
			raw = raw[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return 0, 0, "", fmt.Errorf("attribute entry: %w", protowire.ParseError(n))
			}
			raw = raw[n:]
		}
	}

	if quark == -2 {
		return 0, 0, "", errors.NewMissingField("quark")
	}
	if parent == -2 {
		return 0, 0, "", errors.NewMissingField("parent")
	}
	return quark, parent, name, nil
}

// restore appends one decoded attribute. Entries must arrive in quark
// order and reference an already restored parent.
func (t *Tree) restore(quark, parent int, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if quark != len(t.nodes) {
		return fmt.Errorf("attribute table: expected quark %d, got %d: %w",
			len(t.nodes), quark, errors.ErrStorageIO)
	}

	p, err := t.nodeLocked(parent)
	if err != nil {
		return fmt.Errorf("attribute table: quark %d: %w", quark, err)
	}
	if _, dup := p.children[name]; dup {
		return fmt.Errorf("attribute table: duplicate name %q under %d: %w",
			name, parent, errors.ErrStorageIO)
	}

	t.nodes = append(t.nodes, &node{
		name:     name,
		parent:   parent,
		children: make(map[string]int),
	})
	p.children[name] = quark
	p.order = append(p.order, quark)
	return nil
}
