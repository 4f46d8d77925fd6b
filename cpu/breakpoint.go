package cpu

import "fmt"

type AddressType int

const (
	AddressGuest AddressType = iota
	AddressHost
)

func (t AddressType) String() string {
	if t == AddressHost {
		return "host"
	}
	return "guest"
}

// PatchRecord remembers the bytes a trap replaced at one host location.
type PatchRecord struct {
	HostAddress uint64
	Original    [2]byte
}

// Breakpoint targets either a guest address, resolved through the translated functions covering it,
// or a single host address.
type Breakpoint struct {
	addressType  AddressType
	guestAddress uint32
	hostAddress  uint64
	functions    FunctionLookup

	// backendData is owned by the backend that installed the breakpoint.
	backendData []PatchRecord
}

func NewGuestBreakpoint(guestAddress uint32, functions FunctionLookup) *Breakpoint {
	return &Breakpoint{addressType: AddressGuest, guestAddress: guestAddress, functions: functions}
}

func NewHostBreakpoint(hostAddress uint64) *Breakpoint {
	return &Breakpoint{addressType: AddressHost, hostAddress: hostAddress}
}

func (b *Breakpoint) AddressType() AddressType { return b.addressType }
func (b *Breakpoint) GuestAddress() uint32     { return b.guestAddress }
func (b *Breakpoint) HostAddress() uint64      { return b.hostAddress }

// ForEachHostAddress calls fn for every host location this breakpoint currently maps to.
func (b *Breakpoint) ForEachHostAddress(fn func(hostAddress uint64)) {
	if b.addressType == AddressHost {
		fn(b.hostAddress)
		return
	}
	if b.functions == nil {
		return
	}
	for _, f := range b.functions.FindFunctionsWithAddress(b.guestAddress) {
		b.ForEachHostAddressInFunction(f, fn)
	}
}

// ForEachHostAddressInFunction restricts the guest mapping to a single translated function.
func (b *Breakpoint) ForEachHostAddressInFunction(f GuestFunction, fn func(hostAddress uint64)) {
	if b.addressType == AddressHost {
		fn(b.hostAddress)
		return
	}
	for _, host := range f.MapGuestAddressToMachineCode(b.guestAddress) {
		fn(host)
	}
}

// BackendData returns a copy of the patch records in installation order.
func (b *Breakpoint) BackendData() []PatchRecord {
	return append([]PatchRecord(nil), b.backendData...)
}

func (b *Breakpoint) AppendBackendData(rec PatchRecord) {
	b.backendData = append(b.backendData, rec)
}

// ClearBackendData drops the records and returns them.
func (b *Breakpoint) ClearBackendData() []PatchRecord {
	recs := b.backendData
	b.backendData = nil
	return recs
}

func (b *Breakpoint) String() string {
	if b.addressType == AddressHost {
		return fmt.Sprintf("host breakpoint %#x", b.hostAddress)
	}
	return fmt.Sprintf("guest breakpoint %08X", b.guestAddress)
}
