package backend

// Dispatcher is implemented by any value that can deliver a gateway event to the bot
// under test. The main purpose is a slight decoupling of the gateway server in order for
// backend tests to capture dispatched events instead of running a real websocket
type Dispatcher interface {
	// Dispatch delivers one event of the given type to the connected client and returns
	// the sequence number assigned to it
	Dispatch(eventType string, data interface{}) (seq int64)
}
