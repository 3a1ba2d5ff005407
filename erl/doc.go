// Package erl is the client of the host's edge rate limiter: rate counters
// that track events per entry, penalty boxes that hold offenders for a
// while, and Limiter, which combines both in one host call.
package erl
