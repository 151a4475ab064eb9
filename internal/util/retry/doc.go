// Package retry retries operations that fail transiently.
//
// Two schedules are offered: [WithExponentialBackoff] for dial attempts and
// [WithLinearBackoff] for control-plane queries that race a just-started API
// server. Errors marked with [Fatal] stop either schedule immediately.
package retry
