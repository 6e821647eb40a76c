// Package authflow implements the cross-window authorization handshake.
//
// The controller and the authorization window never share a call stack. They
// coordinate through two transports:
//
//   - a durable [Store] holding the pending marker ([PendingKey]) and the
//     outcome record ([ResultKey]), observed through storage change events
//   - a direct [Bus] carrying [Message] values between live windows
//
// [Waiter] opens the window, listens on both transports plus a liveness poll,
// and settles exactly once. [Popup] is the window side: it looks up the
// pending session and publishes the outcome through [Broadcast].
package authflow
