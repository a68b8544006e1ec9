package noise

import (
	"crypto/ed25519"
	"fmt"
	"net"
	"sync"

	"github.com/flynn/noise"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

const (
	// maxFrameSize 单帧密文上限
	maxFrameSize = 65535

	// maxPlaintext 单帧明文上限，扣除 16 字节认证标签
	maxPlaintext = maxFrameSize - 16
)

// Conn 加密连接
//
// 读写各自持锁，可以由不同的 goroutine 并发读写。
type Conn struct {
	net.Conn

	sendCS *noise.CipherState
	recvCS *noise.CipherState

	local     types.PeerID
	remote    types.PeerID
	remotePub ed25519.PublicKey

	readMu  sync.Mutex
	readBuf []byte

	writeMu sync.Mutex
}

func newConn(raw net.Conn, send, recv *noise.CipherState, local, remote types.PeerID, remotePub ed25519.PublicKey) *Conn {
	return &Conn{
		Conn:      raw,
		sendCS:    send,
		recvCS:    recv,
		local:     local,
		remote:    remote,
		remotePub: remotePub,
	}
}

// LocalPeer 本地节点 ID
func (c *Conn) LocalPeer() types.PeerID { return c.local }

// RemotePeer 已验证的对端节点 ID
func (c *Conn) RemotePeer() types.PeerID { return c.remote }

// RemotePublicKey 对端身份公钥
func (c *Conn) RemotePublicKey() ed25519.PublicKey { return c.remotePub }

// Read 读取并解密
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}

	frame, err := readFrame(c.Conn)
	if err != nil {
		return 0, err
	}
	plain, err := c.recvCS.Decrypt(nil, nil, frame)
	if err != nil {
		return 0, fmt.Errorf("decrypt: %w", err)
	}

	n := copy(p, plain)
	if n < len(plain) {
		c.readBuf = plain[n:]
	}
	return n, nil
}

// Write 加密并写入，超过单帧上限的数据被切分
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(p) {
		end := written + maxPlaintext
		if end > len(p) {
			end = len(p)
		}
		ct, err := c.sendCS.Encrypt(nil, nil, p[written:end])
		if err != nil {
			return written, fmt.Errorf("encrypt: %w", err)
		}
		if err := writeFrame(c.Conn, ct); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}
