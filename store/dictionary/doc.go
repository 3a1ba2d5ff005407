// Package dictionary reads the host's edge dictionaries. A missing key is
// reported as absent, not as an error.
package dictionary
