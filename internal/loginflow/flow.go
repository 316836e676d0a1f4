package loginflow

import "net/url"

// State is the observable state of the login flow.
type State int

const (
	// StatePrompt offers the login action.
	StatePrompt State = iota
	// StateExchanging handles the identity provider's redirect.
	StateExchanging
)

func (s State) String() string {
	switch s {
	case StatePrompt:
		return "prompt"
	case StateExchanging:
		return "exchanging"
	default:
		return "unknown"
	}
}

// Effect describes the work a location requires.
type Effect int

const (
	// EffectNone means nothing happens until the user begins a login.
	EffectNone Effect = iota
	// EffectAwaitCode means the callback carried no code. Nothing is sent and a
	// waiting indicator is shown.
	EffectAwaitCode
	// EffectExchange means the code must be exchanged for a token.
	EffectExchange
)

func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectAwaitCode:
		return "await-code"
	case EffectExchange:
		return "exchange"
	default:
		return "unknown"
	}
}

// Step is the result of Transition.
type Step struct {
	State  State
	Effect Effect

	// Code is the authorization code, set for EffectExchange.
	Code string
	// ReturnedState is the state parameter echoed by the identity provider.
	ReturnedState string
}

// Transition maps the current location to the flow state and the effect it calls for.
func Transition(callbackPath, path string, query url.Values) Step {
	if path != callbackPath {
		return Step{State: StatePrompt, Effect: EffectNone}
	}

	code := query.Get("code")
	if code == "" {
		return Step{State: StateExchanging, Effect: EffectAwaitCode}
	}

	return Step{
		State:         StateExchanging,
		Effect:        EffectExchange,
		Code:          code,
		ReturnedState: query.Get("state"),
	}
}
