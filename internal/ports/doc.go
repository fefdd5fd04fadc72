// Package ports defines the interfaces (ports) that connect the fragstore
// core to infrastructure adapters.
//
// Ports are the boundary between the application core (internal/app) and
// the outside world. They say what the core needs from a storage engine or
// an instrumentation sink without saying how it is provided.
//
// # Port Interfaces
//
//   - [Backend]: Stores and retrieves fragments (memory, disk, sqlite, bolt, s3)
//   - [Observer]: Optional measurement hook for writes, retries and confirms
//   - [Logger]: Structured logging abstraction
//
// Adapters under internal/adapters implement these interfaces. The core
// never inspects a backend error beyond the classification the retry
// coordinator performs with errors.Is(err, domain.ErrTransient).
package ports
