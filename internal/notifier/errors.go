package notifier

import (
	"fmt"
)

// FailureKind classifies channel delivery failures
type FailureKind int

const (
	FailureAuth FailureKind = iota
	FailureConnection
	FailureBadConfig
	FailureRemoteRejected
)

func (k FailureKind) String() string {
	switch k {
	case FailureAuth:
		return "auth"
	case FailureConnection:
		return "connection"
	case FailureBadConfig:
		return "bad_config"
	case FailureRemoteRejected:
		return "remote_rejected"
	}
	return "unknown"
}

// ChannelError is returned by Channel.Send
type ChannelError struct {
	Kind    FailureKind
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s channel: %s: %v", e.Channel, e.Kind, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

func channelErr(channel string, kind FailureKind, err error) *ChannelError {
	return &ChannelError{Kind: kind, Channel: channel, Err: err}
}
