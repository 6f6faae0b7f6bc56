package db

import (
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconnect/internal/events"
)

// Attach records bus activity until the returned stop function is called
// or the bus stops. It reads through an ordered stream so a session's end
// is never written before its start.
func (a *AuditLog) Attach(bus *events.EventBus) (stop func()) {
	st := bus.Stream(256,
		events.EventAuthenticated,
		events.EventEnd,
		events.EventCommandExecuted,
		events.EventHealthFailed,
	)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range st.C() {
			if err := a.record(ev); err != nil {
				log.Warn().Err(err).Str("event", string(ev.Type)).Msg("audit write failed")
			}
		}
		if n := st.Dropped(); n > 0 {
			log.Warn().Uint64("dropped", n).Msg("audit log missed events")
		}
	}()

	return func() {
		st.Close()
		<-done
	}
}

func (a *AuditLog) record(ev events.Event) error {
	switch p := ev.Payload.(type) {
	case events.ConnectPayload:
		return a.SessionStarted(SessionRecord{
			SessionID:   p.SessionID,
			Server:      ev.Source,
			Game:        p.Game,
			Address:     p.Address,
			ConnectedAt: ev.Time,
		})
	case events.EndPayload:
		return a.SessionEnded(p.SessionID, p.Cause, ev.Time)
	case events.CommandPayload:
		return a.RecordCommand(CommandRecord{
			SessionID: p.SessionID,
			Server:    p.Server,
			Command:   p.Command,
			Response:  p.Response,
			Error:     p.Error,
			Duration:  p.Duration,
			CreatedAt: ev.Time,
		})
	case events.HealthPayload:
		return a.CreateAlert(p.Server, "warning", p.Reason)
	}
	return nil
}
