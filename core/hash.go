package core

// mixHash32 is the engine's one deterministic noise primitive: a small
// integer mix (murmur3-finalizer style) over (seed, subsystem-specific
// salts). No subsystem uses math/rand or any other entropy source in the
// tick path (spec §5): every "random" value in the sim is this function
// applied to some combination of world seed, chunk coordinates, a model or
// proto id, and a local position.
func mixHash32(seed uint64, salts ...int64) uint32 {
	x := uint32(seed ^ (seed >> 32))
	primes := [...]uint32{0x85ebca6b, 0xc2b2ae35, 0x27d4eb2d, 0x165667b1, 0x9e3779b9, 0x85ebca77}
	for i, s := range salts {
		x ^= uint32(s) * primes[i%len(primes)]
	}
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

// mixHashSignedQ16 returns mixHash32 rescaled into [-0.5, 0.5) as a
// float-free ratio expressed in Q16.16 fixed point (raw values -32768 to
// 32767), used by noise terms (the strata model's grade noise, the
// atmosphere model's baseline jitter).
func mixHashSignedQ16(seed uint64, salts ...int64) int32 {
	h := mixHash32(seed, salts...)
	// keep the top 16 bits of h and centre them: [-32768, 32768)
	return int32(h>>16) - 32768
}
