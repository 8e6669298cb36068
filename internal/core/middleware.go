package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"heraldbot/internal/message"
	"heraldbot/internal/transport"
	"heraldbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWRecover turns a handler panic into an error and logs the stack.
func MWRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					l := log
					if req != nil {
						l = req.Log
					}
					l.Error("handler panicked",
						logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWTimeout bounds the handler, the access lookup included.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(tctx, req)
		}
	}
}

// MWLog records the request outcome on the request logger.
func MWLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			if err != nil {
				req.Log.Warn("request failed", logx.Dur("took", time.Since(start)), logx.Err(err))
			} else {
				req.Log.Info("request ok", logx.Dur("took", time.Since(start)))
			}
			return err
		}
	}
}

// MWAccess rejects the request when the user does not meet the command's
// access level. The user gets a reply; the handler never runs.
func MWAccess(gate *Gate, adapter transport.Adapter, level Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if gate.Allow(ctx, level, req.Chat.ChatID, req.FromID) {
				return next(ctx, req)
			}
			req.Log.Info("access denied", logx.Int("level", int(level)))
			if cb := req.Update.Callback; cb != nil {
				return adapter.AnswerCallback(ctx, cb.ID, message.NotAllowed)
			}
			_, err := adapter.SendText(ctx, req.Chat, message.NotAllowed, nil)
			return err
		}
	}
}
