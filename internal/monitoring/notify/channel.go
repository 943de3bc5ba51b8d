package notify

import "context"

// Channel delivers a rendered notification.
type Channel interface {
	Send(ctx context.Context, subject, body string) error
}

// MultiChannel fans a notification out to several channels. Every channel
// is attempted; the first error is returned.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

// Send forwards the notification to all channels.
func (m *MultiChannel) Send(ctx context.Context, subject, body string) error {
	if m == nil {
		return nil
	}
	var firstErr error
	for _, channel := range m.channels {
		if channel == nil {
			continue
		}
		if err := channel.Send(ctx, subject, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
