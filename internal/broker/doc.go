// Package broker implements the RabbitMQ plumbing shared by task producers,
// task workers and result finalizers: a TCP reachability prober, a connection
// manager that blocks until the broker is back, a publisher that re-establishes
// stale sessions, and a prefetch-one consumer with manual acknowledgment.
//
// Sessions are never shared. Each Producer and Consumer owns exactly one
// connection and one channel and replaces both together.
package broker
