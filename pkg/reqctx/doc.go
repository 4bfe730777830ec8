// Package reqctx implements the ambient RequestContext of spec.md §4.6:
// subrequest/pipeline/request-depth accounting, deterministic simulated
// time advancement, and the blockGlobalAsyncIO guard, all carried
// implicitly through context.Context the way the original propagates it
// through async-local storage.
//
// Middleware is grounded on the teacher's gRPC unary interceptor
// (pkg/api/interceptor.go): a function wrapping a Handler, establishing
// state before the call and translating violations into the errs
// taxonomy rather than gRPC status codes.
package reqctx
