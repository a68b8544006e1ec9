// Package identity 管理节点身份
//
// 节点身份是一把 Ed25519 密钥，PeerID 是公钥的 SHA-256 摘要：
//
//	id, _ := identity.Generate()
//	sig, _ := id.Sign(data)
//	ok := identity.Verify(id.PublicKey(), data, sig)
//
// 私钥可以以 PEM 格式持久化，重启后 PeerID 保持不变。
package identity
