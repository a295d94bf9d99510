package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"serverpal/internal/storage"
	logx "serverpal/pkg/logx"
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

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
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
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{logx.Strings("args", req.Args), logx.Duration("dur", d)}
			switch {
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWAudit writes one audit entry per command after it finishes. Audit write
// failures are logged and never fail the command.
func MWAudit(audit AuditPort, now func() time.Time) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if audit == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			start := now()
			err := next(ctx, req)
			e := storage.AuditEntry{
				At:            start,
				ActorID:       req.Message.FromID,
				ActorUsername: req.Message.FromUsername,
				ChatID:        req.Chat.ChatID,
				Command:       req.Command,
				Args:          strings.Join(req.Args, " "),
				OK:            err == nil,
				TookMS:        now().Sub(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			// The handler context may already be past its deadline.
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if aerr := audit.AppendAudit(actx, e); aerr != nil {
				req.Logger.Warn("audit write failed", logx.Err(aerr))
			}
			return err
		}
	}
}
