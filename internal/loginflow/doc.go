// Package loginflow drives the OAuth2 authorization code flow against an
// external identity provider.
//
// The flow has two observable states, chosen by the current location rather
// than by internal state:
//
//   - Prompt: any location other than the callback path. BeginLogin returns the
//     provider's authorize URL for the caller to navigate to.
//   - Exchanging: the callback path. HandleCallback sends the returned code to
//     the backend verification endpoint and, on success, logs the session in.
//
// Transition is the pure part of the state machine and can be tested without
// any I/O:
//
//	step := loginflow.Transition(loginflow.DefaultCallbackPath, u.Path, u.Query())
//	if step.Effect == loginflow.EffectExchange {
//		// exchange step.Code
//	}
//
// # Anti-replay state
//
// Every login attempt carries a random state value. With Config.VerifyState
// enabled the value is kept in the token store and a callback whose state does
// not match is rejected with ErrStateMismatch before any network call.
package loginflow
