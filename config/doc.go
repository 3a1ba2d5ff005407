// Package config loads the edged YAML configuration and watches it for
// changes.
//
// A configuration names the listen address, log level, backends, the
// default backend the dev server forwards to, cache tuning, and the
// contents of local dictionaries, secret stores and kv stores:
//
//	listen: ":7676"
//	log_level: debug
//	backend: origin
//	backends:
//	  origin: http://127.0.0.1:8080
//	cache:
//	  default_ttl: 2m
//	  stale_if_error: 10m
//	dictionaries:
//	  settings:
//	    greeting: hello
//
// Watcher reloads the file when it changes; dictionaries can be swapped in
// place while the server runs.
package config
