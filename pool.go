package mqttc

import "errors"

// ErrPoolExhausted is returned by BlockPool.Alloc when every block is in use.
var ErrPoolExhausted = errors.New("mqttc: buffer pool exhausted")

// BlockPool is a fixed-size block allocator. All blocks are carved from one
// backing array at construction and recycled through a free list, so the
// memory used by client buffers never grows. It is not safe for concurrent
// use; the Engine guards it with its lock.
type BlockPool struct {
	blockSize int
	backing   []byte
	free      []int // indexes of free blocks
	inUse     []bool
}

// NewBlockPool creates a pool of count blocks of blockSize bytes each.
func NewBlockPool(blockSize, count int) *BlockPool {
	p := &BlockPool{
		blockSize: blockSize,
		backing:   make([]byte, blockSize*count),
		inUse:     make([]bool, count),
	}
	p.Reset()
	return p
}

// Reset marks every block free.
func (p *BlockPool) Reset() {
	p.free = p.free[:0]
	for i := len(p.inUse) - 1; i >= 0; i-- {
		p.inUse[i] = false
		p.free = append(p.free, i)
	}
}

// BlockSize returns the size of each block.
func (p *BlockPool) BlockSize() int {
	return p.blockSize
}

// Available returns the number of free blocks.
func (p *BlockPool) Available() int {
	return len(p.free)
}

// Alloc returns a zeroed block.
func (p *BlockPool) Alloc() ([]byte, error) {
	if len(p.free) == 0 {
		return nil, ErrPoolExhausted
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[idx] = true

	block := p.block(idx)
	clear(block)
	return block, nil
}

// Free returns a block obtained from Alloc. Blocks that do not belong to the
// pool, and blocks already free, are ignored.
func (p *BlockPool) Free(block []byte) {
	idx, ok := p.index(block)
	if !ok || !p.inUse[idx] {
		return
	}

	p.inUse[idx] = false
	p.free = append(p.free, idx)
}

func (p *BlockPool) block(idx int) []byte {
	start := idx * p.blockSize
	return p.backing[start : start+p.blockSize : start+p.blockSize]
}

func (p *BlockPool) index(block []byte) (int, bool) {
	if p.blockSize == 0 || cap(block) != p.blockSize || len(block) == 0 {
		return 0, false
	}

	for idx := range p.inUse {
		if &p.block(idx)[0] == &block[0] {
			return idx, true
		}
	}

	return 0, false
}
