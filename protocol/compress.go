package protocol

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// maxDecoded 单帧 body 解压后的大小上限。
const maxDecoded = 64 << 20

var (
	encoderPool = sync.Pool{New: func() any {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			panic(err)
		}
		return enc
	}}
	decoderPool = sync.Pool{New: func() any {
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(maxDecoded),
		)
		if err != nil {
			panic(err)
		}
		return dec
	}}
)

// compress 将 src 的 zstd 编码追加到 dst。
func compress(dst, src []byte) []byte {
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	return enc.EncodeAll(src, dst)
}

// decompress 将 src 解码后追加到 dst。
func decompress(dst, src []byte) ([]byte, error) {
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)
	return dec.DecodeAll(src, dst)
}
