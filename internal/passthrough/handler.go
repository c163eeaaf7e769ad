package passthrough

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/eventbus"
)

// RegisterHandlers subscribes the passthrough to cloud lifecycle events.
// Connecting and cloud queries both schedule a report of the current record.
func RegisterHandlers(bus *eventbus.Bus, signal *Signal) {
	bus.SubscribeAll(func(event eventbus.Event) {
		HandleEvent(event, signal)
	})
}

// HandleEvent reacts to a single lifecycle event.
func HandleEvent(event eventbus.Event, signal *Signal) {
	switch event.Type {
	case eventbus.EventTypeCloudConnected:
		log.Debug().Interface("session", event.Data["session"]).Msg("Cloud connected")
		signal.Give()
	case eventbus.EventTypeCloudDisconnected:
		log.Debug().Interface("session", event.Data["session"]).Msg("Cloud disconnected")
	case eventbus.EventTypeGetDeviceData:
		log.Debug().Interface("msg_id", event.Data["msg_id"]).Msg("Cloud queried device data")
		signal.Give()
	case eventbus.EventTypeSetDeviceData:
		log.Debug().Interface("msg_id", event.Data["msg_id"]).Msg("Cloud sent device data")
	case eventbus.EventTypePostCloudData:
		log.Debug().Interface("msg_id", event.Data["msg_id"]).Msg("Device data posted")
	}
}
