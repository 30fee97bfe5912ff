// Package gateway exposes batched reads and writes against an embedded
// key-value environment through flat caller-owned buffers and a
// three-valued status.
//
// A Handle owns one environment and one reusable read transaction. Read
// calls renew that transaction, run and then suspend it again so
// repeated small reads do not pay for a fresh transaction each time.
// Write calls run every operation inside a single write transaction which
// is committed only if all of them succeed.
//
// Calls never return Go errors. They return a Status:
//
//	StatusOK     everything succeeded
//	StatusErr    the call failed, LastError describes why
//	StatusAgain  an output buffer was too small, retry with a larger one
//
// Lookups of absent keys are not failures. They are reported through
// FlagNotFound on the operation or a length of -1.
package gateway
