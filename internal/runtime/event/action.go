package event

import "fmt"

// Action is an outbound request a handler asks the bot to perform, such as
// sending a message. Adapters encode it for the wire.
type Action struct {
	Name   string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
	Echo   string         `json:"echo,omitempty"`
}

// NewAction builds an action from alternating key/value pairs.
func NewAction(name string, kv ...any) Action {
	params := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		params[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return Action{Name: name, Params: params}
}

// WithEcho returns a copy of a tagged with echo.
func (a Action) WithEcho(echo string) Action {
	a.Echo = echo
	return a
}
