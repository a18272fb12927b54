package optimization

import (
	"fmt"

	"github.com/wippyai/testopt/abi"
)

// Status is the terminal outcome of a test
type Status uint8

const (
	StatusPass Status = iota
	StatusFail
	StatusSkip
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusSkip:
		return "skip"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// code returns the wire code; unknown statuses have none
func (s Status) code() (uint8, bool) {
	switch s {
	case StatusPass:
		return abi.StatusPass, true
	case StatusFail:
		return abi.StatusFail, true
	case StatusSkip:
		return abi.StatusSkip, true
	}
	return 0, false
}
