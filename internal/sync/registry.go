package sync

import (
	"fmt"

	apperrors "github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/models"
)

// Registry is the static ActionType → Endpoint mapping used by drain.
type Registry struct {
	endpoints map[models.ActionType]Endpoint
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[models.ActionType]Endpoint)}
}

// Register binds an endpoint to a recognized action type.
func (r *Registry) Register(t models.ActionType, e Endpoint) error {
	if !t.Known() {
		return apperrors.New(apperrors.ErrUnknownActionType, fmt.Sprintf("cannot register endpoint for %q", t))
	}
	if e == nil {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("nil endpoint for %q", t))
	}
	r.endpoints[t] = e
	return nil
}

// Lookup returns the endpoint for t.
func (r *Registry) Lookup(t models.ActionType) (Endpoint, error) {
	e, ok := r.endpoints[t]
	if !ok {
		return nil, apperrors.New(apperrors.ErrUnknownActionType, fmt.Sprintf("no endpoint for action type %q", t))
	}
	return e, nil
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return len(r.endpoints)
}
