// Package ring 提供环形字节缓冲，用于在多次读之间累积连接上的半包。
package ring

import "errors"

var ErrTooLarge = errors.New("ring: buffer limit exceeded")

// Buffer 是容量为 2 的幂次的环形缓冲，按需扩容直到上限。
// 非并发安全：每个连接独占一个，只在事件循环 goroutine 中使用。
type Buffer struct {
	buf   []byte
	mask  int
	r, w  int // 单调递增，按容量取模得到偏移
	limit int
}

func roundPow2(n int) int {
	c := 1
	for c < n {
		c <<= 1
	}
	return c
}

// New 返回容量不小于 capacity、最多扩容到 limit 的缓冲。limit 小于容量时取容量。
func New(capacity, limit int) *Buffer {
	c := roundPow2(capacity)
	if limit < c {
		limit = c
	}
	return &Buffer{buf: make([]byte, c), mask: c - 1, limit: limit}
}

func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) Len() int { return b.w - b.r }

func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// Write 追加 p，必要时扩容；超过上限则什么都不写并返回 ErrTooLarge。
func (b *Buffer) Write(p []byte) (int, error) {
	if need := b.Len() + len(p); need > b.Cap() {
		if need > b.limit {
			return 0, ErrTooLarge
		}
		b.resize(roundPow2(need))
	}
	start := b.w & b.mask
	n := copy(b.buf[start:], p)
	copy(b.buf, p[n:])
	b.w += len(p)
	return len(p), nil
}

// Bytes 以连续切片返回缓冲数据，若已绕回则先整理。下一次 Write 前有效。
func (b *Buffer) Bytes() []byte {
	start := b.r & b.mask
	if start+b.Len() > b.Cap() {
		b.resize(b.Cap())
		start = 0
	}
	return b.buf[start : start+b.Len()]
}

// Discard 前进读指针，最多 n 字节。
func (b *Buffer) Discard(n int) int {
	if n > b.Len() {
		n = b.Len()
	}
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
	return n
}

// resize 把数据搬到容量为 c 的新切片开头。
func (b *Buffer) resize(c int) {
	next := make([]byte, c)
	n := b.Len()
	start := b.r & b.mask
	k := copy(next, b.buf[start:min(start+n, len(b.buf))])
	copy(next[k:n], b.buf)
	b.buf, b.mask = next, c-1
	b.r, b.w = 0, n
}
