package vm

import (
	"errors"
	"math"
)

// ErrConstantPoolFull is returned by Intern once every 16-bit id is taken.
var ErrConstantPoolFull = errors.New("constant pool full")

// ConstantPool is an append-only table of interned string constants.
// Identical text always maps to the same id.
type ConstantPool struct {
	entries []string
	index   map[string]uint16
}

// NewConstantPool creates an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{index: make(map[string]uint16)}
}

// Intern returns the id for s, adding it if it is new.
func (p *ConstantPool) Intern(s string) (uint16, error) {
	if id, ok := p.index[s]; ok {
		return id, nil
	}
	if len(p.entries) > math.MaxUint16 {
		return 0, ErrConstantPoolFull
	}
	id := uint16(len(p.entries))
	p.entries = append(p.entries, s)
	p.index[s] = id
	return id, nil
}

// Find returns the id of s without adding it.
func (p *ConstantPool) Find(s string) (uint16, bool) {
	id, ok := p.index[s]
	return id, ok
}

// Lookup returns the text for id.
func (p *ConstantPool) Lookup(id uint16) (string, bool) {
	if int(id) >= len(p.entries) {
		return "", false
	}
	return p.entries[id], true
}

// Len returns the number of constants.
func (p *ConstantPool) Len() int {
	return len(p.entries)
}

// Entries returns the constants in id order. The slice must not be modified.
func (p *ConstantPool) Entries() []string {
	return p.entries
}
