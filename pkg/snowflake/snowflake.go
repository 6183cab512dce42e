package snowflake

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

var ErrNodeRange = errors.New("node number must be between 0 and 1023")

// Node hands out ids that are unique per node and increase with time, so ids
// minted by one sender sort in creation order.
type Node struct {
	mu    sync.Mutex
	time  int64
	node  int64
	step  int64
	epoch int64
	now   func() int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrNodeRange
	}
	return &Node{
		node:  node,
		epoch: epoch,
		now:   func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()

	if now < n.time {
		// Clock moved backwards, keep issuing from the last seen millisecond.
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = n.now()
			}
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ((now - n.epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// ID returns a prefixed string id such as "msg_123456".
func (n *Node) ID(prefix string) string {
	return prefix + "_" + strconv.FormatInt(n.Generate(), 10)
}

// Time extracts the unix millisecond timestamp an id was minted at.
func Time(id int64) int64 {
	return (id >> timeShift) + epoch
}
