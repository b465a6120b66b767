package session

import "github.com/google/uuid"

// Identity namespaces. Contexts must be stable across processes so a client
// that reconnects (or a duplicate UDP invite) maps to the same 16-byte
// token, which is why both are name-derived rather than random.
var (
	nsClient = uuid.NewSHA1(uuid.NameSpaceOID, []byte("snoip.client"))
	nsCall   = uuid.NewSHA1(uuid.NameSpaceOID, []byte("snoip.call"))
)

// ClientCtx derives the stable per-login identity from a username.
func ClientCtx(username string) uuid.UUID {
	return uuid.NewSHA1(nsClient, []byte(username))
}

// CallCtx derives the stable per-call identity from the caller and callee
// identities. The derivation is directional: A calling B is a different
// call identity than B calling A.
func CallCtx(caller, callee uuid.UUID) uuid.UUID {
	name := make([]byte, 0, 32)
	name = append(name, caller[:]...)
	name = append(name, callee[:]...)
	return uuid.NewSHA1(nsCall, name)
}
