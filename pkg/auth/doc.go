// Package auth provides pluggable authentication for the agentbox gateway.
//
// Authenticators are evaluated as a chain with three-outcome voting: each
// returns Yes (credentials valid), No (credentials present but rejected), or
// Abstain (credential type not handled). The first non-Abstain vote wins, and
// a configurable default decides when every authenticator abstains.
//
// Auth runs as HTTP middleware ahead of the handlers, so the warm pool and
// run engine never see unauthenticated traffic. The middleware also injects
// the caller's tenant into the request context, which scopes every run
// ledger read and write.
package auth
