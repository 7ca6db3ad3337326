package domain

import "errors"

var (
	ErrInvalidAddress  = errors.New("invalid device address")
	ErrDuplicateMember = errors.New("device already in fleet")
	ErrNotFound        = errors.New("device not in fleet")
	ErrAuth            = errors.New("device authentication failed")
	ErrRemoteOperation = errors.New("device operation failed")
)
