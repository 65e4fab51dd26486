package syncer

import "github.com/ibraude/marktwo/backend/internal/entity"

// State 一次同步周期所处的阶段
type State int

const (
	Idle State = iota
	Diffing
	Committing
	Accepted
	Conflicted
	Reassembling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Diffing:
		return "diffing"
	case Committing:
		return "committing"
	case Accepted:
		return "accepted"
	case Conflicted:
		return "conflicted"
	case Reassembling:
		return "reassembling"
	}
	return "unknown"
}

// 合法的状态迁移；失败的周期从任意阶段直接回到 Idle
var transitions = map[State][]State{
	Idle:         {Diffing},
	Diffing:      {Committing},
	Committing:   {Accepted, Conflicted},
	Accepted:     {Idle},
	Conflicted:   {Reassembling},
	Reassembling: {Idle},
}

func canTransition(from, to State) bool {
	if to == Idle {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome 一次成功完成的同步周期的结果。
// 冲突不是错误：Result 为 Conflicted 时 Metadata 是远端的权威版本，文档已按它重建。
type Outcome struct {
	Result   State
	Metadata entity.DocumentMetadata
	// 本周期在远端新建 / 本地驱逐的页面
	Created []string
	Evicted []string
}
