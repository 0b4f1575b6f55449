package slab

// ArenaAllocator adapts an Arena into the shape tcp.Allocator wants,
// the AllocFunc/DeallocFunc pairing TcpServer.h's constructor takes: one
// fixed allocator sizing every accepted connection's rings instead of
// each connection picking its own capacity independently. It is defined
// here rather than in tcp so the core tcp/mirrorring/reactor packages
// never need to import this external collaborator -- only callers that
// want it do.
type ArenaAllocator struct {
	arena                     *Arena
	inboundSize, outboundSize int
}

// NewArenaAllocator returns an ArenaAllocator that reserves
// inboundSize+outboundSize bytes from arena for every connection it
// sizes, and gives that reservation back when Alloc's release func runs.
func NewArenaAllocator(arena *Arena, inboundSize, outboundSize int) *ArenaAllocator {
	return &ArenaAllocator{arena: arena, inboundSize: inboundSize, outboundSize: outboundSize}
}

// Alloc reserves this allocator's fixed budget from the arena. If the
// arena can't back the full inbound+outbound reservation, it retries
// inbound-only, trading away the outbound ring (the connection becomes
// write-disabled) rather than failing the accept outright; if even that
// doesn't fit, it falls back to the caller's default sizing with a nil
// release, same as having no Allocator at all.
func (a *ArenaAllocator) Alloc() (inboundCapacity, outboundCapacity int, release func()) {
	if block := a.arena.Alloc(a.inboundSize + a.outboundSize); block != nil {
		return a.inboundSize, a.outboundSize, func() { a.arena.Free(block) }
	}
	if block := a.arena.Alloc(a.inboundSize); block != nil {
		return a.inboundSize, 0, func() { a.arena.Free(block) }
	}
	return 0, 0, nil
}
