package types

// type of FSM command
type CommandType uint

const (
	CommandTypeClaimProject CommandType = iota + 1
	CommandTypeClearProject
	CommandTypeSetWaiting
	CommandTypeEnterExclusive
	CommandTypeLeaveExclusive
	CommandTypeSetResolving
)

// interface all FSM commands implement
type Command interface {
	Type() CommandType
}

// commits this process to owning a project
type ClaimProjectCmd struct {
	Project ProjectIdentity
}

func (c ClaimProjectCmd) Type() CommandType { return CommandTypeClaimProject }

// drops the current project, leaving the process settled with none
type ClearProjectCmd struct{}

func (c ClearProjectCmd) Type() CommandType { return CommandTypeClearProject }

// marks the process as waiting on the user or another instance
type SetWaitingCmd struct {
	Waiting bool
}

func (c SetWaitingCmd) Type() CommandType { return CommandTypeSetWaiting }

// fences all ownership queries until LeaveExclusiveCmd
type EnterExclusiveCmd struct{}

func (c EnterExclusiveCmd) Type() CommandType { return CommandTypeEnterExclusive }

type LeaveExclusiveCmd struct{}

func (c LeaveExclusiveCmd) Type() CommandType { return CommandTypeLeaveExclusive }

// marks whether a process without a project is still deciding what to open
type SetResolvingCmd struct {
	Resolving bool
}

func (c SetResolvingCmd) Type() CommandType { return CommandTypeSetResolving }
