package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/louloulin/lumos.ai-sub002/internal/util/msgio"
)

// maxMessageSize 控制消息上限
const maxMessageSize = 4 << 10

// Status 电路请求结果
type Status string

const (
	StatusOK             Status = "OK"
	StatusRateLimited    Status = "RATE_LIMITED"
	StatusResourceLimit  Status = "RESOURCE_LIMIT"
	StatusNoRoute        Status = "NO_ROUTE"
	StatusMalformed      Status = "MALFORMED"
	StatusPermissionDeny Status = "PERMISSION_DENIED"
)

var (
	// ErrRateLimited 中继拒绝：来源超出速率
	ErrRateLimited = errors.New("relay: rate limited")

	// ErrResourceLimit 中继拒绝：电路数达到上限
	ErrResourceLimit = errors.New("relay: circuit limit reached")

	// ErrNoRelay 没有可用的中继
	ErrNoRelay = errors.New("relay: no relay available")

	// ErrRefused 电路被拒绝
	ErrRefused = errors.New("relay: circuit refused")
)

// hopRequest 源节点发往中继
type hopRequest struct {
	Target string `json:"target"`
}

// stopRequest 中继发往目标节点
type stopRequest struct {
	Source string `json:"source"`
}

// response hop 与 stop 的共同应答
type response struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (r response) err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusRateLimited:
		return ErrRateLimited
	case StatusResourceLimit:
		return ErrResourceLimit
	default:
		return fmt.Errorf("%w: %s %s", ErrRefused, r.Status, r.Reason)
	}
}

func writeMsg(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return msgio.WriteFixedFrame(w, b)
}

func readMsg(r io.Reader, v any) error {
	b, err := msgio.ReadFixedFrame(r, maxMessageSize)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
