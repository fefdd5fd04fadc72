// Package fragstore persists append-only binary atoms into interchangeable
// storage backends.
//
// Atoms larger than a backend's chunk limit are split into fragments, each
// prefixed with a small self-describing header. Fragment writes complete
// asynchronously and possibly out of order; the store tracks completion
// per event and reports it exactly once. Reads reassemble the original
// bytes.
//
// # Basic Usage
//
//	cfg := fragstore.DefaultConfig()
//	cfg.Backend.Kind = fragstore.KindDisk
//	cfg.Backend.Dir = "/var/lib/atoms"
//
//	store, err := fragstore.Open(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.SubmitWrite(42, atom, func(r fragstore.Result) {
//	    if r.Err != nil {
//	        // every fragment was retried and at least one still failed
//	    }
//	})
//
// # Event Lifecycle
//
// A write moves through Pending, Sending and Sent. Once Sent, a durability
// barrier may be requested with [Store.RequestConfirm]; the event becomes
// Confirming and, when the backend's sync completes, Confirmed. Confirmed
// and failed events are no longer tracked, so their event numbers can be
// written again.
//
// # Backends
//
// The backend is chosen by [BackendConfig.Kind]: memory, disk, sqlite,
// bolt or s3. A custom [Backend] can be supplied with [WithBackend].
//
// # Dependency Injection
//
//	store, err := fragstore.Open(ctx, cfg,
//	    fragstore.WithLogger(logger),
//	    fragstore.WithObserver(observer),
//	)
package fragstore
