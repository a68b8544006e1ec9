package dht

import (
	"time"

	"github.com/louloulin/lumos.ai-sub002/internal/core/swarm"
	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// handleStream 处理一条入站请求流
func (d *DHT) handleStream(s *swarm.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(d.cfg.RequestTimeout.Std()))

	req, err := readMessage(s)
	if err != nil {
		log.Debug("读取请求失败", "peer", s.RemotePeer().ShortString(), "error", err)
		return
	}
	from := s.RemotePeer()

	var resp *Message
	switch {
	case req.Sender != from:
		resp = &Message{Type: req.Type, Error: errSenderMismatch}
	case !d.limiter.Allow(from):
		log.Debug("请求过于频繁，已拒绝", "peer", from.ShortString(), "type", req.Type)
		resp = &Message{Type: req.Type, Error: errRateLimited}
	default:
		addrs := PeerRecord{ID: from, Addrs: req.SenderAddrs}.AddrInfo().Addrs
		if len(addrs) > 0 {
			d.peers.AddAddrs(from, addrs...)
		}
		d.rt.Update(from)
		resp = d.handleRequest(req, types.AddrInfo{ID: from, Addrs: addrs})
	}

	resp.Sender = d.self
	if err := writeMessage(s, resp); err != nil {
		log.Debug("写入响应失败", "peer", from.ShortString(), "error", err)
	}
}

func (d *DHT) handleRequest(req *Message, from types.AddrInfo) *Message {
	resp := &Message{Type: req.Type}
	switch req.Type {
	case MessagePing:

	case MessageFindNode:
		key, err := parseKey(req.Key)
		if err != nil {
			resp.Error = errBadKey
			break
		}
		resp.CloserPeers = d.closerRecords(key, from.ID)

	case MessageAddProvider:
		c, err := types.ParseCID(req.Key)
		if err != nil {
			resp.Error = errBadKey
			break
		}
		d.providers.Add(c, from)
		d.metrics.SetProviderRecords(d.providers.Len())
		log.Debug("收到提供者记录", "cid", c, "provider", from.ID.ShortString())

	case MessageGetProviders:
		c, err := types.ParseCID(req.Key)
		if err != nil {
			resp.Error = errBadKey
			break
		}
		for _, rec := range d.providers.Get(c) {
			resp.Providers = append(resp.Providers, toRecord(rec.Provider))
		}
		resp.CloserPeers = d.closerRecords(types.KeyForCID(c), from.ID)

	default:
		resp.Error = errUnknownType
	}
	return resp
}

// closerRecords 路由表中距 key 最近的 K 个节点，不含请求方
func (d *DHT) closerRecords(key types.DHTKey, exclude types.PeerID) []PeerRecord {
	ids := d.rt.NearestPeers(key, d.cfg.BucketSize+1)
	out := make([]PeerRecord, 0, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		out = append(out, PeerRecord{ID: id, Addrs: types.AddrStrings(d.peers.Addrs(id))})
		if len(out) == d.cfg.BucketSize {
			break
		}
	}
	return out
}
