// Package devtools defines the boundary between stores and an external
// time-travel debugger.
//
// A store with debugging enabled connects once, sends its initial
// snapshot with Init and then one Send per dispatched action. The bridge
// may push messages back; a DISPATCH message carries a full state
// snapshot that the store applies. Snapshots are opaque JSON bytes.
package devtools

// Message types understood by stores.
const (
	// TypeDispatch asks the store to replace its state with Message.State.
	TypeDispatch = "DISPATCH"
)

// InitAction is the action name recorded for the initial snapshot.
const InitAction = "@@INIT"

// Features advertises what the store supports.
type Features struct {
	Jump bool `json:"jump"`
}

// ConnectOptions identifies the connecting store.
type ConnectOptions struct {
	Name     string   `json:"name"`
	Features Features `json:"features"`
}

// Message is sent from the bridge to the store.
type Message struct {
	Type  string `json:"type"`
	State string `json:"state,omitempty"`
}

// Handler receives bridge messages.
type Handler func(Message)

// Bridge is one store's connection to a debugger.
type Bridge interface {
	Init(state []byte) error
	Subscribe(h Handler)
	Send(action string, state []byte) error
}

// Connector opens bridges.
type Connector interface {
	Connect(opts ConnectOptions) (Bridge, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(opts ConnectOptions) (Bridge, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(opts ConnectOptions) (Bridge, error) {
	return f(opts)
}
