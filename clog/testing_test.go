package clog

import "bytes"

// withBuffer 将日志输出写入指定缓冲区，仅测试使用，需配合 Output: "buffer"。
func withBuffer(buf *bytes.Buffer) Option {
	return func(o *options) {
		o.buffer = buf
	}
}
