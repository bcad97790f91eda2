// Package session owns the registry of live ephemeral browsing sessions.
//
// Each session pairs an unguessable identifier with an isolated storage
// directory and an environment handle obtained from the rendering
// collaborator. The manager guarantees complete teardown: environment
// release strictly precedes secure deletion of storage, and a periodic sweep
// reclaims orphaned directories left behind by crashed sessions.
package session
