// Package feed publishes walker progress to Redis.
//
// The feed is optional and purely observational: walkers never read from it
// and a walk behaves identically with or without it. Each accepted step is
// written to a per-walker status hash and published as a step event:
//
//	pmodel:{run}:walker:{id}   hash   latest status of one walker
//	pmodel:{run}:step_events   pubsub every accepted step and termination
//
// All keys and channels are namespaced by run name so that several runs can
// share one Redis server.
package feed
