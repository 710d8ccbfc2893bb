package parity

// VectorWordSize is the block-buffer word size the engines report;
// block sizes must be a multiple of it (config.Layout.Normalize
// enforces this). xorInto itself steps eight bytes at a time.
const VectorWordSize = 16

// xorInto computes dst[i] ^= src[i] for the shared length, unrolled
// eight bytes at a time with a scalar tail for the remainder.
func xorInto(dst, src []byte) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	w := n - n%8
	for i := 0; i < w; i += 8 {
		dst[i] ^= src[i]
		dst[i+1] ^= src[i+1]
		dst[i+2] ^= src[i+2]
		dst[i+3] ^= src[i+3]
		dst[i+4] ^= src[i+4]
		dst[i+5] ^= src[i+5]
		dst[i+6] ^= src[i+6]
		dst[i+7] ^= src[i+7]
	}
	for i := w; i < n; i++ {
		dst[i] ^= src[i]
	}
}

// xorMany zeroes dst and XOR-reduces every src into it.
func xorMany(dst []byte, srcs ...[]byte) {
	for i := range dst {
		dst[i] = 0
	}
	for _, s := range srcs {
		xorInto(dst, s)
	}
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
