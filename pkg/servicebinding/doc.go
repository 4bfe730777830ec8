// Package servicebinding dispatches a request from one Worker to
// another in-process, giving spec.md §4.6's pipelineDepth/requestDepth
// bookkeeping an actual caller. Adapted from the teacher's pkg/client
// request-dispatch wrapper (one typed method per call, wrapping the
// transport with a context and returning a typed result) with the gRPC
// transport replaced by a direct in-process handler lookup — there is no
// wire protocol here, only two Workers in the same simulator process.
package servicebinding
