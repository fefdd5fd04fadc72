// Package log provides the logging abstraction used by fragstore components.
//
// Components depend only on the Logger interface. A zerolog adapter is
// provided for the CLI and a no-op logger is the default for library use
// and tests.
//
//	logger := log.NewZerologAdapter(os.Stderr, "debug")
//	logger.Info("fragment written", log.Chunk(key), log.Int("bytes", n))
//
// Implement Logger to route fragstore messages into an existing logging
// setup.
package log
