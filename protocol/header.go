package protocol

import (
	"encoding/binary"
	"errors"
)

// 每帧以大端 LenFlags 头部开始。
//
// 短头（2B）：
//
//	bit15      Compressed
//	bit14      保留，必须为 0
//	bit13      Ext=0（短头）
//	bit12..0   Len13（0..8191）
//
// 长头（4B）：bit31..29 为同样的三个标志位，bit28..0 为 Len29。
const (
	MaxShortLen = 1<<13 - 1
	MaxFrameLen = 1<<29 - 1

	shortBits = 0x1FFF
	longBits  = 0x1FFFFFFF

	flagCompressed = 1 << 15
	flagReserved   = 1 << 14
	flagLong       = 1 << 13
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	ErrReservedFlag  = errors.New("protocol: reserved header bit set")
)

// Header 描述 LenFlags 之后的 body。
type Header struct {
	Len        int
	Compressed bool
}

// Size 返回头部本身的编码长度。
func (h Header) Size() int {
	if h.Len > MaxShortLen {
		return 4
	}
	return 2
}

// AppendHeader 将 h 编码追加到 dst，长度允许时使用短头。
func AppendHeader(dst []byte, h Header) ([]byte, error) {
	if h.Len < 0 || h.Len > MaxFrameLen {
		return dst, ErrFrameTooLarge
	}
	var flags uint16
	if h.Compressed {
		flags |= flagCompressed
	}
	if h.Len <= MaxShortLen {
		return binary.BigEndian.AppendUint16(dst, flags|uint16(h.Len)), nil
	}
	v := uint32(flags|flagLong)<<16 | uint32(h.Len)
	return binary.BigEndian.AppendUint32(dst, v), nil
}

// ReadHeader 解码 b 开头的头部；头部尚不完整时返回 n == 0 且无错误。
func ReadHeader(b []byte) (h Header, n int, err error) {
	if len(b) < 2 {
		return Header{}, 0, nil
	}
	v := binary.BigEndian.Uint16(b)
	if v&flagReserved != 0 {
		return Header{}, 0, ErrReservedFlag
	}
	h.Compressed = v&flagCompressed != 0
	if v&flagLong == 0 {
		h.Len = int(v & shortBits)
		return h, 2, nil
	}
	if len(b) < 4 {
		return Header{}, 0, nil
	}
	h.Len = int(binary.BigEndian.Uint32(b) & longBits)
	return h, 4, nil
}
