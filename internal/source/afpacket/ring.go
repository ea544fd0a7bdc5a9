package afpacket

import (
	"fmt"

	"firestige.xyz/ingress/internal/core"
)

const (
	tpacketAlignment = 16
	tpacketHeaderLen = 52 // TPACKET3_HDRLEN rounded for the sockaddr_ll trailer
	maxBlockSize     = 4 << 20
)

// ringLayout is the geometry of a TPACKET_V3 ring. The block size is a
// multiple of both the page size and the frame size, as the kernel and
// gopacket require.
type ringLayout struct {
	frameSize int
	blockSize int
	numBlocks int
}

// planRing fits a ring holding snapLen-byte frames into roughly bufferMB.
func planRing(bufferMB, snapLen, pageSize int) (ringLayout, error) {
	switch {
	case bufferMB <= 0:
		return ringLayout{}, fmt.Errorf("%w: ring buffer size %d MiB", core.ErrConfigInvalid, bufferMB)
	case snapLen <= 0:
		return ringLayout{}, fmt.Errorf("%w: snap length %d", core.ErrConfigInvalid, snapLen)
	case pageSize <= 0 || pageSize%tpacketAlignment != 0:
		return ringLayout{}, fmt.Errorf("%w: page size %d", core.ErrConfigInvalid, pageSize)
	}

	l := ringLayout{frameSize: alignUp(tpacketHeaderLen+snapLen, tpacketAlignment)}
	l.blockSize = lcm(pageSize, l.frameSize)
	if l.blockSize > maxBlockSize {
		// Page-aligned frames make every multiple of the frame a valid block.
		l.frameSize = alignUp(l.frameSize, pageSize)
		l.blockSize = l.frameSize * max(1, maxBlockSize/l.frameSize)
	}
	l.numBlocks = max(1, bufferMB<<20/l.blockSize)
	return l, nil
}

func alignUp(n, to int) int { return (n + to - 1) / to * to }

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int { return a / gcd(a, b) * b }
