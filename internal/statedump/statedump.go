// Package statedump saves and restores the full state of a state system at
// one timestamp as a JSON document.
//
// File layout, under <dir>/.tc-states/<id>.statedump.json:
//
//	{
//	  "format-version": 1,
//	  "id": "kernel",
//	  "statedump-version": 3,
//	  "state": {
//	    "children": {
//	      "CPUs": {
//	        "type": "null",
//	        "children": {
//	          "0": {"type": "int", "value": 2, "children": {}}
//	        }
//	      }
//	    }
//	  }
//	}
//
// Non-finite doubles are written as "nan", "+inf" and "-inf".
package statedump

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	defaults "github.com/xtxerr/statehist/config"
	"github.com/xtxerr/statehist/internal/constants"
	"github.com/xtxerr/statehist/internal/errors"
	"github.com/xtxerr/statehist/internal/logging"
	"github.com/xtxerr/statehist/internal/state"
)

// Source is the part of a state system a dump is taken from.
type Source interface {
	QueryFullState(t int64) ([]state.Interval, error)
	NumAttributes() int
	AttributePath(quark int) ([]string, error)
}

// Writer is the part of a state system a dump is restored into.
type Writer interface {
	QuarkAbsoluteAndAdd(path ...string) (int, error)
	ModifyAttribute(t int64, v state.Value, quark int) error
}

// Statedump is the value of every attribute at one point in time.
type Statedump struct {
	attributes [][]string
	values     []state.Value
	version    int
}

// New builds a statedump from matching attribute and value lists.
func New(attributes [][]string, values []state.Value, version int) (*Statedump, error) {
	if len(attributes) != len(values) {
		return nil, errors.NewValidation("values",
			fmt.Sprintf("%d values for %d attributes", len(values), len(attributes)))
	}
	for _, path := range attributes {
		if len(path) == 0 {
			return nil, fmt.Errorf("empty attribute path: %w", errors.ErrInvalidPath)
		}
	}

	d := &Statedump{
		attributes: make([][]string, len(attributes)),
		values:     append([]state.Value(nil), values...),
		version:    version,
	}
	for i, path := range attributes {
		d.attributes[i] = append([]string(nil), path...)
	}
	return d, nil
}

// FromStateSystem takes the state of every attribute of src at t.
func FromStateSystem(src Source, t int64, version int) (*Statedump, error) {
	full, err := src.QueryFullState(t)
	if err != nil {
		return nil, fmt.Errorf("statedump at %d: %w", t, err)
	}

	n := src.NumAttributes()
	if len(full) < n {
		n = len(full)
	}
	d := &Statedump{
		attributes: make([][]string, 0, n),
		values:     make([]state.Value, 0, n),
		version:    version,
	}
	for q := 0; q < n; q++ {
		path, err := src.AttributePath(q)
		if err != nil {
			return nil, err
		}
		d.attributes = append(d.attributes, path)
		d.values = append(d.values, full[q].Value)
	}
	return d, nil
}

// Attributes returns the attribute paths, in the order of Values.
func (d *Statedump) Attributes() [][]string { return d.attributes }

// Values returns the state of each attribute.
func (d *Statedump) Values() []state.Value { return d.values }

// Version returns the analysis-specific version of the dump.
func (d *Statedump) Version() int { return d.version }

// Len returns the number of attributes.
func (d *Statedump) Len() int { return len(d.attributes) }

// Path returns the file holding the dump of id under dir.
func Path(dir, id string) string {
	return filepath.Join(dir, constants.StatedumpDir, id+constants.StatedumpSuffix)
}

// =============================================================================
// Save / load
// =============================================================================

// Dump writes the statedump of id under dir, replacing any previous one.
func (d *Statedump) Dump(dir, id string) error {
	root := newNode()
	for i, path := range d.attributes {
		n := root
		for _, name := range path {
			child, ok := n.children[name]
			if !ok {
				child = newNode()
				n.children[name] = child
			}
			n = child
		}
		n.value = d.values[i]
		n.hasValue = true
	}

	doc := map[string]any{
		constants.StatedumpKeyFormatVersion: defaults.StatedumpFormatVersion,
		constants.StatedumpKeyID:            id,
		constants.StatedumpKeyVersion:       d.version,
		constants.StatedumpKeyState:         root,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode statedump: %w", err)
	}

	path := Path(dir, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewStorageIO("create statedump directory", err)
	}

	// Write then rename so a reader never sees half a file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewStorageIO("write statedump", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.NewStorageIO("write statedump", err)
	}

	logging.Component("statedump").Debug("statedump written",
		"ssid", id,
		"path", path,
		"attributes", len(d.attributes),
	)
	return nil
}

// Load reads the statedump of id under dir. A dump written with another
// format version, for another id or with an analysis version other than
// version fails with ErrVersionMismatch.
func Load(dir, id string, version int) (*Statedump, error) {
	path := Path(dir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("statedump", id)
		}
		return nil, errors.NewStorageIO("read statedump", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]json.RawMessage
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.NewStorageIO("parse statedump", err)
	}

	var formatVersion int
	if err := decodeKey(doc, constants.StatedumpKeyFormatVersion, &formatVersion); err != nil {
		return nil, err
	}
	if formatVersion != defaults.StatedumpFormatVersion {
		return nil, fmt.Errorf("statedump format %d, expected %d: %w",
			formatVersion, defaults.StatedumpFormatVersion, errors.ErrVersionMismatch)
	}

	var ssid string
	if err := decodeKey(doc, constants.StatedumpKeyID, &ssid); err != nil {
		return nil, err
	}
	if ssid != id {
		return nil, fmt.Errorf("statedump of %q, expected %q: %w", ssid, id, errors.ErrVersionMismatch)
	}

	d := &Statedump{}
	if err := decodeKey(doc, constants.StatedumpKeyVersion, &d.version); err != nil {
		return nil, err
	}
	if d.version != version {
		return nil, fmt.Errorf("statedump version %d, expected %d: %w",
			d.version, version, errors.ErrVersionMismatch)
	}

	var rootNode map[string]json.RawMessage
	if err := decodeKey(doc, constants.StatedumpKeyState, &rootNode); err != nil {
		return nil, err
	}
	if err := d.visit(rootNode, nil); err != nil {
		return nil, err
	}
	return d, nil
}

// Restore sets every attribute of the dump at t, creating missing ones.
func (d *Statedump) Restore(w Writer, t int64) error {
	for i, path := range d.attributes {
		q, err := w.QuarkAbsoluteAndAdd(path...)
		if err != nil {
			return fmt.Errorf("restore %v: %w", path, err)
		}
		if err := w.ModifyAttribute(t, d.values[i], q); err != nil {
			return fmt.Errorf("restore %v: %w", path, err)
		}
	}
	return nil
}

// =============================================================================
// Encoding
// =============================================================================

type node struct {
	value    state.Value
	hasValue bool
	children map[string]*node
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

func (n *node) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		constants.StatedumpKeyChildren: n.children,
	}
	if n.hasValue {
		typ, val := encodeValue(n.value)
		m[constants.StatedumpKeyType] = typ
		if val != nil {
			m[constants.StatedumpKeyValue] = val
		}
	}
	return json.Marshal(m)
}

func encodeValue(v state.Value) (string, any) {
	switch v.Kind() {
	case state.KindNull:
		return constants.TypeNull, nil
	case state.KindBool:
		b, _ := v.AsBool()
		return constants.TypeBoolean, b
	case state.KindInt:
		i, _ := v.AsInt()
		return constants.TypeInt, i
	case state.KindLong:
		l, _ := v.AsLong()
		return constants.TypeLong, l
	case state.KindDouble:
		f, _ := v.AsDouble()
		switch {
		case math.IsNaN(f):
			return constants.TypeDouble, constants.DoubleNaN
		case math.IsInf(f, 1):
			return constants.TypeDouble, constants.DoublePosInf
		case math.IsInf(f, -1):
			return constants.TypeDouble, constants.DoubleNegInf
		}
		return constants.TypeDouble, f
	case state.KindString:
		s, _ := v.AsString()
		return constants.TypeString, s
	default:
		return constants.TypeUnknown, v.String()
	}
}

// visit walks a state node depth first, children in name order. Nodes
// without a type only carry children.
func (d *Statedump) visit(raw map[string]json.RawMessage, path []string) error {
	if len(path) > 0 {
		if _, ok := raw[constants.StatedumpKeyType]; ok {
			v, err := decodeValue(raw)
			if err != nil {
				return fmt.Errorf("attribute %v: %w", path, err)
			}
			d.attributes = append(d.attributes, append([]string(nil), path...))
			d.values = append(d.values, v)
		}
	}

	childrenRaw, ok := raw[constants.StatedumpKeyChildren]
	if !ok {
		return nil
	}
	var children map[string]map[string]json.RawMessage
	if err := unmarshalNumber(childrenRaw, &children); err != nil {
		return fmt.Errorf("attribute %v: children: %w", path, errors.NewStorageIO("parse statedump", err))
	}

	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := d.visit(children[name], append(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func decodeValue(raw map[string]json.RawMessage) (state.Value, error) {
	var typ string
	if err := decodeKey(raw, constants.StatedumpKeyType, &typ); err != nil {
		return state.Null(), err
	}

	if typ == constants.TypeNull {
		return state.Null(), nil
	}
	valueRaw, ok := raw[constants.StatedumpKeyValue]
	if !ok {
		return state.Null(), errors.NewMissingField(constants.StatedumpKeyValue)
	}

	switch typ {
	case constants.TypeBoolean:
		var b bool
		if err := unmarshalNumber(valueRaw, &b); err != nil {
			return state.Null(), errors.NewValueType(constants.TypeBoolean, string(valueRaw))
		}
		return state.Bool(b), nil

	case constants.TypeInt, constants.TypeLong:
		var n json.Number
		if err := unmarshalNumber(valueRaw, &n); err != nil {
			return state.Null(), errors.NewValueType(typ, string(valueRaw))
		}
		l, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return state.Null(), errors.NewValueType(typ, n.String())
		}
		if typ == constants.TypeInt {
			return state.Int(int32(l)), nil
		}
		return state.Long(l), nil

	case constants.TypeDouble:
		var s string
		if err := unmarshalNumber(valueRaw, &s); err == nil {
			switch s {
			case constants.DoubleNaN:
				return state.Double(math.NaN()), nil
			case constants.DoublePosInf:
				return state.Double(math.Inf(1)), nil
			case constants.DoubleNegInf:
				return state.Double(math.Inf(-1)), nil
			}
			return state.Null(), errors.NewValueType(constants.TypeDouble, s)
		}
		var n json.Number
		if err := unmarshalNumber(valueRaw, &n); err != nil {
			return state.Null(), errors.NewValueType(constants.TypeDouble, string(valueRaw))
		}
		f, err := n.Float64()
		if err != nil {
			return state.Null(), errors.NewValueType(constants.TypeDouble, n.String())
		}
		return state.Double(f), nil

	case constants.TypeString, constants.TypeUnknown:
		var s string
		if err := unmarshalNumber(valueRaw, &s); err != nil {
			return state.Null(), errors.NewValueType(constants.TypeString, string(valueRaw))
		}
		return state.String(s), nil
	}

	return state.Null(), errors.NewValidation(constants.StatedumpKeyType, fmt.Sprintf("unknown type %q", typ))
}

func decodeKey(m map[string]json.RawMessage, key string, out any) error {
	raw, ok := m[key]
	if !ok {
		return errors.NewMissingField(key)
	}
	if err := unmarshalNumber(raw, out); err != nil {
		return fmt.Errorf("%s: %w", key, errors.NewStorageIO("parse statedump", err))
	}
	return nil
}

// unmarshalNumber decodes raw keeping numbers as json.Number.
func unmarshalNumber(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}
