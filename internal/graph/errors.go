package graph

import (
	"errors"
	"fmt"
)

var (
	ErrStepNotFound       = errors.New("step not found")
	ErrDanglingReference  = errors.New("dangling reference")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrInvalidStep        = errors.New("invalid step")
	ErrUnknownProcessType = errors.New("unknown process type")
)

// DanglingReference records one edge whose upstream id is absent.
type DanglingReference struct {
	StepID    string `json:"step_id"`
	Param     string `json:"param"`
	MissingID string `json:"missing_id"`
}

func (d DanglingReference) Error() string {
	return fmt.Sprintf("step %q input %q references missing step %q", d.StepID, d.Param, d.MissingID)
}

func (d DanglingReference) Unwrap() error { return ErrDanglingReference }

// TypeMismatch records an edge whose upstream output does not match the
// declared parameter type.
type TypeMismatch struct {
	StepID   string `json:"step_id"`
	Param    string `json:"param"`
	Upstream string `json:"upstream"`
	Want     string `json:"want"`
	Got      string `json:"got"`
}

func (m TypeMismatch) Error() string {
	return fmt.Sprintf("step %q input %q expects %q but step %q produces %q", m.StepID, m.Param, m.Want, m.Upstream, m.Got)
}

func (m TypeMismatch) Unwrap() error { return ErrTypeMismatch }
