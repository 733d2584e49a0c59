/*
Package observability exports the runner fleet to Prometheus.

Metrics records what a controller does (transitions, iterations, notices, jobs) through
lifecycle hooks, an executor job hook and a notifier wrapper. FleetCollector reads the
runner store and the queues on every scrape, so any process sharing the store can serve
a fleet-wide view.
*/
package observability
