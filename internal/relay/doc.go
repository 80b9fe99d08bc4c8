// Package relay wires the relay-gateway together: the HTTP API that
// accepts and queries activities, and the scheduler running the send,
// requeue, retry-reply, and cleanup workers against the shared store.
//
// The API never forwards anything itself. A submission is durable the
// moment 202 is returned; everything after that is the workers replaying
// persisted state until the activity reaches COMPLETED.
package relay
