package encryption

// Size of the generator state, in 32 bit words.
const stateSize = 624

// Number of values drawn before the mask used for scrambling is taken.
const maskRounds = 100

// Scrambler reproduces the generator the game client uses to turn the
// server's nonce into the session key. It is a Mersenne Twister style
// generator seeded with the 32 bit seed the client sends in its Login
// message; a proxy that observes both the seed and the nonce can therefore
// derive the same key as the client without any server secret.
//
// The state advances with every value produced, so a Scrambler should be
// used for a single Scramble call.
type Scrambler struct {
	buffer [stateSize]uint32
	ix     int
}

// NewScrambler returns a generator seeded with the client seed.
func NewScrambler(seed int32) *Scrambler {
	s := &Scrambler{}
	s.buffer[0] = uint32(seed)
	for i := 1; i < stateSize; i++ {
		prev := s.buffer[i-1]
		s.buffer[i] = 1812433253*(prev^(prev>>30)) + uint32(i)
	}
	return s
}

// mix regenerates the whole state block.
func (s *Scrambler) mix() {
	for i := 0; i < stateSize; i++ {
		val := (s.buffer[i] & 0x80000000) + (s.buffer[(i+1)%stateSize] & 0x7fffffff)
		s.buffer[i] = s.buffer[(i+397)%stateSize] ^ (val >> 1)
		if val&1 != 0 {
			s.buffer[i] ^= 0x9908b0df
		}
	}
}

// Next returns the next tempered value from the generator.
func (s *Scrambler) Next() uint32 {
	if s.ix == 0 {
		s.mix()
	}
	val := s.buffer[s.ix]
	s.ix = (s.ix + 1) % stateSize

	val ^= (val >> 11) ^ ((val ^ (val >> 11)) << 7 & 0x9d2c5680)
	high := val << 15 & 0xefc60000
	return ((val ^ high) >> 18) ^ val ^ high
}

// Scramble derives a key from nonce. The 100th generated value is used as a
// mask over the values that follow, one per nonce byte.
func (s *Scrambler) Scramble(nonce []byte) []byte {
	var mask uint32
	for i := 0; i < maskRounds; i++ {
		mask = s.Next()
	}

	scrambled := make([]byte, len(nonce))
	for i, b := range nonce {
		scrambled[i] = b ^ byte(s.Next()&mask)
	}
	return scrambled
}

// Scramble is shorthand for NewScrambler(seed).Scramble(nonce).
func Scramble(seed int32, nonce []byte) []byte {
	return NewScrambler(seed).Scramble(nonce)
}
