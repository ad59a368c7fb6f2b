package relay

// State 表示单次请求在 Relay 中所处的阶段。
type State string

const (
	StateIdle             State = "IDLE"
	StateAwaitingTab      State = "AWAITING_TAB"
	StateAwaitingResponse State = "AWAITING_RESPONSE"
	StateDelivered        State = "DELIVERED"
)

func (s State) String() string {
	switch s {
	case StateIdle, StateAwaitingTab, StateAwaitingResponse, StateDelivered:
		return string(s)
	default:
		return string(StateIdle)
	}
}

// TransitionObserver 在每次状态迁移时被调用，用于日志和测试。
type TransitionObserver func(from, to State)
