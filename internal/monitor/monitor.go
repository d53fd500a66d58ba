package monitor

import (
	"context"
	"log"
	"time"

	"signalpipeline/internal/notify"
)

// Monitor watches the ops-alert broadcast topic and forwards anything
// published there to AlertFn. Generalized from the teacher's global
// events.Bus subscription: notify.Bus fans out per user, so alerts ride
// the reserved notify.SystemUserID topic instead of a dedicated topic
// constant.
type Monitor struct {
	Bus     *notify.Bus
	AlertFn func(string)
}

// Start subscribes to the system alert topic and runs until ctx is
// canceled. No-op if Bus or AlertFn is unset.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.AlertFn == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(notify.SystemUserID, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.AlertFn(formatAlert(msg))
			}
		}
	}()
}

func formatAlert(msg notify.Message) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + msg.EventType + ": " + toString(msg.Payload)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]string:
		return t["error"]
	default:
		return "alert triggered"
	}
}
