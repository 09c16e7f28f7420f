package lifecycle

import "errors"

// State 是 worker 生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

var (
	// ErrInstallFailed 表示预缓存失败，该版本不会被激活。
	ErrInstallFailed = errors.New("install failed")
	// ErrInvalidTransition 表示在不允许的阶段调用了 Install/Activate。
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrNoWaitingWorker 表示没有等待中的 worker 可以跳过等待。
	ErrNoWaitingWorker = errors.New("no waiting worker")
)

// transitions 列出每个阶段允许进入的下一阶段，任何阶段都可以转为 redundant。
var transitions = map[State][]State{
	StateParsed:     {StateInstalling},
	StateInstalling: {StateInstalled},
	StateInstalled:  {StateActivating},
	StateActivating: {StateActivated},
}

func canTransition(from, to State) bool {
	if to == StateRedundant {
		return from != StateRedundant
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
