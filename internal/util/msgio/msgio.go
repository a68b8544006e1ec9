// Package msgio 提供流上的长度前缀帧读写
//
// 两种帧格式：
//   - varint 前缀（pubsub、fetch、identify 等协议）
//   - 4 字节大端前缀（DHT 协议）
package msgio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// DefaultMaxMessageSize 默认单帧上限
const DefaultMaxMessageSize = 4 << 20

var (
	// ErrMessageTooLarge 帧长度超过上限
	ErrMessageTooLarge = errors.New("msgio: message too large")
)

// WriteVarintFrame 写入 varint 长度前缀帧
func WriteVarintFrame(w io.Writer, data []byte) error {
	buf := make([]byte, 0, varint.UvarintSize(uint64(len(data)))+len(data))
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	buf = append(buf, data...)
	_, err := w.Write(buf)
	return err
}

// Reader 读取 varint 长度前缀帧
type Reader struct {
	br  *bufio.Reader
	max int
}

// NewReader 创建帧读取器，max <= 0 时使用默认上限
func NewReader(r io.Reader, max int) *Reader {
	if max <= 0 {
		max = DefaultMaxMessageSize
	}
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{br: br, max: max}
	}
	return &Reader{br: bufio.NewReader(r), max: max}
}

// ReadFrame 读取下一帧
func (r *Reader) ReadFrame() ([]byte, error) {
	n, err := varint.ReadUvarint(r.br)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, r.max)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadVarintFrame 从 r 读取单帧
//
// 仅用于一问一答的短流；长连接应复用 Reader 以保留缓冲。
func ReadVarintFrame(r io.Reader, max int) ([]byte, error) {
	return NewReader(r, max).ReadFrame()
}

// WriteFixedFrame 写入 4 字节大端长度前缀帧
func WriteFixedFrame(w io.Writer, data []byte) error {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// ReadFixedFrame 读取 4 字节大端长度前缀帧
func ReadFixedFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxMessageSize
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > uint32(max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, max)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
