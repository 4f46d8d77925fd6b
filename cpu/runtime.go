package cpu

// GuestFunction is a translated function; one guest address may map to several host locations.
type GuestFunction interface {
	Address() uint32
	MapGuestAddressToMachineCode(guestAddress uint32) []uint64
}

// FunctionLookup finds every translated function covering a guest address.
type FunctionLookup interface {
	FindFunctionsWithAddress(guestAddress uint32) []GuestFunction
}

// Runtime is the owner of the backend.
type Runtime interface {
	// ResolveFunction translates (if needed) the guest function at guestAddress and returns its host entry.
	ResolveFunction(context uint64, guestAddress uint32) uint64
	// OnThreadBreakpointHit decides how the faulting thread resumes.
	OnThreadBreakpointHit(ex *Exception) bool
}
