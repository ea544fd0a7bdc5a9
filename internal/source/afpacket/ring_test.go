package afpacket

import (
	"errors"
	"testing"

	"firestige.xyz/ingress/internal/core"
)

func TestPlanRing(t *testing.T) {
	tests := []struct {
		name      string
		bufferMB  int
		snapLen   int
		pageSize  int
		wantFrame int
		wantBlock int
	}{
		{"standard frame", 16, 1518, 4096, 1584, 405504},
		{"jumbo snaplen", 64, 65535, 4096, 69632, 4177920},
		{"tiny buffer", 1, 9000, 4096, 9056, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := planRing(tt.bufferMB, tt.snapLen, tt.pageSize)
			if err != nil {
				t.Fatalf("planRing failed: %v", err)
			}
			if l.frameSize != tt.wantFrame {
				t.Errorf("frameSize = %d, want %d", l.frameSize, tt.wantFrame)
			}
			if tt.wantBlock != 0 && l.blockSize != tt.wantBlock {
				t.Errorf("blockSize = %d, want %d", l.blockSize, tt.wantBlock)
			}
			if l.blockSize%tt.pageSize != 0 || l.blockSize%l.frameSize != 0 {
				t.Errorf("blockSize %d not a multiple of page %d and frame %d", l.blockSize, tt.pageSize, l.frameSize)
			}
			if l.numBlocks < 1 {
				t.Errorf("numBlocks = %d", l.numBlocks)
			}
		})
	}
}

func TestPlanRingInvalid(t *testing.T) {
	for _, args := range [][3]int{{0, 1518, 4096}, {16, 0, 4096}, {16, 1518, 1000}} {
		if _, err := planRing(args[0], args[1], args[2]); !errors.Is(err, core.ErrConfigInvalid) {
			t.Errorf("planRing%v: got %v, want ErrConfigInvalid", args, err)
		}
	}
}
