// Package protocol 是 echo 服务使用的长度前缀帧格式：LenFlags 头部 + 可选 zstd 压缩的 body。
package protocol

import "fmt"

// Frame 是一条解码后的消息。未压缩时 Payload 直接引用解析缓冲，仅在回调内有效。
type Frame struct {
	Payload    []byte
	Compressed bool
}

// AppendFrame 将携带 payload 的一帧追加到 dst，compressed 时压缩 body。
func AppendFrame(dst, payload []byte, compressed bool) ([]byte, error) {
	body := payload
	if compressed {
		body = compress(nil, payload)
	}
	dst, err := AppendHeader(dst, Header{Len: len(body), Compressed: compressed})
	if err != nil {
		return dst, err
	}
	return append(dst, body...), nil
}

// Parse 对 buf 开头的每个完整帧回调 fn，返回已消费字节数；末尾不完整的帧不消费。
// fn 返回错误时停止解析，产生错误的那一帧计为已消费。
func Parse(buf []byte, fn func(Frame) error) (consumed int, _ error) {
	for {
		h, n, err := ReadHeader(buf[consumed:])
		if err != nil {
			return consumed, err
		}
		if n == 0 || len(buf[consumed+n:]) < h.Len {
			return consumed, nil
		}
		body := buf[consumed+n : consumed+n+h.Len]
		f := Frame{Payload: body, Compressed: h.Compressed}
		if h.Compressed {
			if f.Payload, err = decompress(nil, body); err != nil {
				return consumed, fmt.Errorf("protocol: decompress %d bytes: %w", len(body), err)
			}
		}
		consumed += n + h.Len
		if err := fn(f); err != nil {
			return consumed, err
		}
	}
}
