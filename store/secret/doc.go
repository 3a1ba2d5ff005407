// Package secret reads the host's secret stores.
package secret
