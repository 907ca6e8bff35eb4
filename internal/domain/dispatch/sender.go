package dispatch

import (
	"context"

	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// ChannelSender performs the actual outbound delivery.  Implementations wrap
// a messaging platform client and are injected at construction.
//
// A nil return means the message was delivered.  Errors must be classified:
// return TransientError for network and 5xx-class failures worth retrying,
// PermanentError for invalid recipients, blocked accounts, or rejected
// content.  Unclassified errors are treated as transient.
type ChannelSender interface {
	Send(ctx context.Context, key common.AccountKey, recipient, payload string) error
}

// TransientError marks a send failure as retryable.
func TransientError(message string, cause error) error {
	return errors.New(errors.ErrCodeSendTransient, message).WithCause(cause)
}

// PermanentError marks a send failure as terminal.
func PermanentError(message string, cause error) error {
	return errors.New(errors.ErrCodeSendPermanent, message).WithCause(cause)
}

// IsPermanent reports whether a send error must not be retried.
func IsPermanent(err error) bool {
	return errors.IsCode(err, errors.ErrCodeSendPermanent)
}

// ChannelSenderFunc adapts a function to the ChannelSender interface.
type ChannelSenderFunc func(ctx context.Context, key common.AccountKey, recipient, payload string) error

func (f ChannelSenderFunc) Send(ctx context.Context, key common.AccountKey, recipient, payload string) error {
	return f(ctx, key, recipient, payload)
}
