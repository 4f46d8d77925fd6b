// Package cpu holds the contracts shared between the backend, the translator and the runtime.
package cpu

// RegisterTypes describes which value kinds a register set can hold.
type RegisterTypes uint8

const (
	IntTypes RegisterTypes = 1 << iota
	FloatTypes
	VecTypes
)

// RegisterSet describes one class of allocatable host registers.
type RegisterSet struct {
	ID    uint8
	Name  string
	Types RegisterTypes
	Count int
}

// MachineInfo is the capability description the translator reads to pick a codegen strategy.
type MachineInfo struct {
	SupportsExtendedLoadStore bool
	RegisterSets              []RegisterSet
}

// RegisterSet looks up a set by name.
func (m MachineInfo) RegisterSet(name string) (RegisterSet, bool) {
	for _, rs := range m.RegisterSets {
		if rs.Name == name {
			return rs, true
		}
	}
	return RegisterSet{}, false
}

// Clone returns a deep copy so callers cannot mutate the backend's copy.
func (m MachineInfo) Clone() MachineInfo {
	out := m
	out.RegisterSets = append([]RegisterSet(nil), m.RegisterSets...)
	return out
}

func (t RegisterTypes) String() string {
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if t&IntTypes != 0 {
		add("int")
	}
	if t&FloatTypes != 0 {
		add("float")
	}
	if t&VecTypes != 0 {
		add("vec")
	}
	if s == "" {
		return "none"
	}
	return s
}
