// Package noise 实现基于 Noise XX 的安全通道
//
// 握手使用 25519 DH、ChaChaPoly 与 SHA-256。节点的 Ed25519 身份密钥
// 通过签名绑定到 Noise 静态密钥，握手完成后双方都得到已验证的对端 PeerID。
//
// 握手消息和加密帧都使用 2 字节大端长度前缀。
package noise
