package workflow

import "context"

type finalDeliveryKey struct{}

// WithFinalDelivery marks ctx as the last delivery of a message: an error
// returned by the handler will not lead to a redelivery.
func WithFinalDelivery(ctx context.Context) context.Context {
	return context.WithValue(ctx, finalDeliveryKey{}, true)
}

// IsFinalDelivery reports whether ctx carries the last delivery of a message.
func IsFinalDelivery(ctx context.Context) bool {
	final, _ := ctx.Value(finalDeliveryKey{}).(bool)
	return final
}
