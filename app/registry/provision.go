package registry

import (
	"context"
	"errors"
	"fmt"

	log "github.com/go-pkgz/lgr"
)

// ErrNoIdentifier is returned when a provisioner produced an entity without a backend id.
var ErrNoIdentifier = errors.New("provisioned entity has no identifier")

// ProvisionError wraps a failure to create a fallback entity, keeping the backend error.
type ProvisionError struct {
	Kind  Kind
	Alias string
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s %q: %v", e.Kind, e.Alias, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Provisioner tells Ensure how to check and create one entity.
// Alive is optional; it returns false with nil error when the backend no longer has the entity.
// Create must return an entity carrying the backend-assigned id.
type Provisioner[T Entity] struct {
	Alive  func(ctx context.Context, cached T) (bool, error)
	Create func(ctx context.Context) (T, error)
}

// Ensure returns the entity registered under alias, provisioning it when missing.
// A cached entry is revalidated with Alive first; a stale one is discarded and
// re-provisioned, and the fresh entity overwrites the alias.
// The registry lock is not held while Alive or Create run.
func Ensure[T Entity](ctx context.Context, r *Registry, alias string, p Provisioner[T]) (T, error) {
	var zero T
	kind := zero.Kind()

	if cached, ok := Lookup[T](r, alias); ok {
		if p.Alive == nil {
			return cached, nil
		}
		alive, err := p.Alive(ctx, cached)
		if err != nil {
			return zero, fmt.Errorf("check %s %q (#%d): %w", kind, alias, cached.EntityID(), err)
		}
		if alive {
			log.Printf("[DEBUG] reusing %s %q #%d", kind, alias, cached.EntityID())
			return cached, nil
		}
		log.Printf("[INFO] %s %q #%d is gone from the backend, provisioning a new one", kind, alias, cached.EntityID())
		r.Discard(kind, alias)
	}

	if p.Create == nil {
		return zero, &MissingError{Kind: kind, Alias: alias, Registered: r.DebugInfo()}
	}

	created, err := p.Create(ctx)
	if err != nil {
		return zero, &ProvisionError{Kind: kind, Alias: alias, Err: err}
	}
	if created.EntityID() == 0 {
		return zero, &ProvisionError{Kind: kind, Alias: alias, Err: ErrNoIdentifier}
	}

	r.Save(alias, created)
	log.Printf("[DEBUG] provisioned %s %q #%d (%s)", kind, alias, created.EntityID(), created.DisplayName())
	return created, nil
}
