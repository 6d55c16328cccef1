package afpacket

import "fmt"

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, approximate
	maxBlockSize     = 4 << 20
	defaultRingMB    = 64
)

// ringSize derives TPACKET_V3 ring geometry from a memory budget.
//
// PACKET_MMAP requires the frame size to be a multiple of TPACKET_ALIGNMENT, the block size to
// be a multiple of the page size, and the block size to be a multiple of the frame size.
func ringSize(ringMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if ringMB <= 0 {
		ringMB = defaultRingMB
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("afpacket: snap_len must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("afpacket: page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	unit := lcm(pageSize, frameSize)
	blockSize = unit
	if n := maxBlockSize / unit; n > 1 {
		blockSize = unit * n
	}

	numBlocks = (ringMB << 20) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, to int) int {
	return (n + to - 1) / to * to
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
