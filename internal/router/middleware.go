package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "megabuddies/pkg/logx"
)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWAuth is the single authorization gate for admin-only commands. Handlers
// never re-check membership themselves.
func MWAuth(access Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if access == AccessAdminOnly && !req.IsAdmin {
				req.Logger.Warn("unauthorized admin command")
				return msgUnauthorized, nil
			}
			return next(ctx, req)
		}
	}
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (text string, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					text = ""
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			text, err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Duration("dur", d),
			}
			if err != nil {
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				req.Logger.Info("request ok", fields...)
			} else {
				req.Logger.Debug("request ok", fields...)
			}
			return text, err
		}
	}
}

// MWRetryStorage retries a handler that failed on the infrastructure path.
// Business outcomes are plain return values and never reach this; only
// storage/transport faults surface as errors here.
func MWRetryStorage(maxRetries int) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			var text string
			var err error
			for attempt := 0; ; attempt++ {
				text, err = next(ctx, req)
				if err == nil || attempt >= maxRetries || ctx.Err() != nil {
					return text, err
				}
				req.Logger.Warn("retrying after infrastructure error",
					logx.Int("attempt", attempt+1), logx.Err(err))
			}
		}
	}
}
