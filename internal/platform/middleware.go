package platform

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"feebot/pkg/logx"
)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// Chain applies m so that m[0] is the outermost wrapper.
func Chain(h Handler, m ...Middleware) Handler {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// WithTimeout bounds every handler call. Zero disables it.
func WithTimeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			if d <= 0 {
				return next(ctx, msg)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, msg)
		}
	}
}

// Recover turns a handler panic into an error.
func Recover(log logx.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered",
						logx.String("platform", string(msg.Platform)),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// RequestLog logs each handled message. Fast successes go to debug.
func RequestLog(log logx.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			start := time.Now()
			err := next(ctx, msg)
			d := time.Since(start)

			cmd, _ := ParseCommand(msg.Text)
			fields := []logx.Field{
				logx.String("platform", string(msg.Platform)),
				logx.String("conv", msg.Conversation.String()),
				logx.String("from", msg.From.ID),
				logx.String("cmd", cmd),
				logx.Duration("dur", d),
			}
			if err != nil {
				log.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				log.Info("request ok", fields...)
			} else {
				log.Debug("request ok", fields...)
			}
			return err
		}
	}
}
