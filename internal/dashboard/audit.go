package dashboard

import (
	"context"
	"strings"
	"time"

	"arkbot/internal/storage"
	"arkbot/internal/transport/telegram/router"
	logx "arkbot/pkg/logx"
)

// read-only commands are not audited
var unaudited = map[string]bool{
	"help": true, "status": true, "queue": true, "log": true, "alerts": true,
	"list_gacha": true, "list_pego": true, "runs": true, "cb:dash:refresh": true,
}

// MWAudit records operator actions in the store. Write failures are logged
// and never fail the request.
func MWAudit(store storage.Store, log logx.Logger) router.Middleware {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx context.Context, req *router.Request) error {
			start := time.Now()
			err := next(ctx, req)
			if store == nil || unaudited[req.Command] {
				return err
			}
			e := storage.AuditEntry{
				At:            start,
				ActorID:       req.FromID,
				ActorUsername: req.FromUsername,
				ChatID:        req.Chat.ChatID,
				Action:        req.Command,
				Target:        strings.Join(req.Args, " "),
				TookMS:        time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
			defer cancel()
			if aerr := store.AppendAudit(actx, e); aerr != nil {
				log.Warn("audit append failed", logx.String("action", req.Command), logx.Err(aerr))
			}
			return err
		}
	}
}
