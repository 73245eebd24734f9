package conduit

import (
	"context"
	"log/slog"
	"time"
)

// WithLogging wires structured logging into the dispatch hooks. Actions
// listed in Config.IgnoredActions are skipped at the debug levels so
// high-frequency heartbeats do not drown the log.
func WithLogging(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		cfg := d.cfg

		WithOnDispatch(func(ctx context.Context, connID, action string) {
			if cfg.ignored(action) {
				return
			}
			log.DebugContext(ctx, "dispatching message", "connId", connID, "action", action)
		})(d)

		WithOnSuccess(func(ctx context.Context, connID, action string, duration time.Duration) {
			if cfg.ignored(action) {
				return
			}
			log.DebugContext(ctx, "handler finished", "connId", connID, "action", action, "duration", duration)
		})(d)

		WithOnFailure(func(ctx context.Context, connID, action string, err error, duration time.Duration) {
			log.ErrorContext(ctx, "handler failed", "connId", connID, "action", action, "error", err, "duration", duration)
		})(d)

		WithOnValidationError(func(ctx context.Context, connID string, items []ErrorItem) {
			log.WarnContext(ctx, "invalid message", "connId", connID, "errors", items)
		})(d)

		WithOnEvent(func(ctx context.Context, connID, action string, mode DispatchMode) {
			if cfg.ignored(action) {
				return
			}
			log.DebugContext(ctx, "routing event", "connId", connID, "action", action, "mode", mode.String())
		})(d)

		WithOnRoutingError(func(ctx context.Context, connID string, err error) {
			log.WarnContext(ctx, "event routing failed", "connId", connID, "error", err)
		})(d)

		WithOnBroadcast(func(ctx context.Context, connID, action string, groups []string) {
			if cfg.ignored(action) {
				return
			}
			log.DebugContext(ctx, "broadcast sent", "connId", connID, "action", action, "groups", groups)
		})(d)

		WithOnDropped(func(connID string, state State) {
			log.Debug("frame dropped", "connId", connID, "state", state.String())
		})(d)

		WithOnRejected(func(connID, reason string) {
			log.Warn("authentication rejected", "connId", connID, "reason", reason)
		})(d)
	}
}
