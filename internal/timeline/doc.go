// Package timeline defines the declarative timeline model projected onto
// devices by the conductor, and the boundary to the resolver that turns a
// timeline into concrete, timed layer states.
//
// # Model
//
// A timeline is a flat list of [Object] values. Each object targets one
// logical layer and carries one or more enable windows whose start, end
// and duration are [Expression] values: a literal Unix-millisecond time,
// the "now" sentinel, or a reference to another object's resolved start or
// end ("#intro.end + 500").
//
// [Mappings] bind layer names to devices. The conductor partitions every
// [ResolvedState] by mapping so each device only sees its own layers.
//
// # Resolver Boundary
//
// The conductor talks to timeline resolution only through the [Resolver]
// interface. [ReferenceResolver] is a self-contained implementation that
// supports literal, "now", duration and reference expressions; hosts with
// richer timeline semantics can supply their own.
//
// # Time
//
// All times are int64 Unix milliseconds. [Forever] marks an instance with
// no end.
package timeline
