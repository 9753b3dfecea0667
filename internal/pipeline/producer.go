package pipeline

import (
	"context"
	"time"
)

// Producer supplies the raw database dump the pipeline turns into an
// artifact. The dump bytes are opaque to the pipeline; `since` is advisory
// for differential dumps and the requested baseline is recorded in the
// operation metadata regardless of producer capability.
type Producer interface {
	// DatabaseID identifies the database this producer dumps.
	DatabaseID() string

	// Dump writes a complete, self-consistent snapshot into dir and
	// returns its path.
	Dump(ctx context.Context, dir string, since *time.Time) (string, error)
}

// Restorer loads a raw dump back into its database. Implemented alongside
// Producer by the database adapters.
type Restorer interface {
	DatabaseID() string
	Restore(ctx context.Context, dumpPath string) error
}
