package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxOperationRetries is the replay budget per queued operation; past it
// the operation is dropped.
const MaxOperationRetries = 3

// OperationKind identifies which mutation a queued operation replays.
type OperationKind string

const (
	OpAdd    OperationKind = "add"
	OpRemove OperationKind = "remove"
	OpUpdate OperationKind = "update"
	OpClear  OperationKind = "clear"
)

// AddPayload carries the original AddItem arguments.
type AddPayload struct {
	Product         Product          `json:"product"`
	Quantity        int              `json:"quantity"`
	SelectedOptions []SelectedOption `json:"selected_options,omitempty"`
}

// RemovePayload carries the original RemoveItem arguments.
type RemovePayload struct {
	ProductID  string `json:"product_id"`
	OptionName string `json:"option_name,omitempty"`
}

// UpdatePayload carries the original UpdateQuantity arguments.
type UpdatePayload struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	OptionName string `json:"option_name,omitempty"`
}

// QueuedOperation is a mutation captured while offline, replayed in FIFO
// order once connectivity returns. Exactly one payload field is set,
// matching Kind; clear carries no payload.
type QueuedOperation struct {
	ID         string        `json:"id"`
	Kind       OperationKind `json:"kind"`
	Add        *AddPayload   `json:"add,omitempty"`
	Remove     *RemovePayload `json:"remove,omitempty"`
	Update     *UpdatePayload `json:"update,omitempty"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	Retries    int           `json:"retries"`
}

// NewAddOperation records an add mutation for later replay.
func NewAddOperation(product Product, quantity int, options []SelectedOption) QueuedOperation {
	return QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       OpAdd,
		Add:        &AddPayload{Product: product, Quantity: quantity, SelectedOptions: options},
		EnqueuedAt: time.Now(),
	}
}

// NewRemoveOperation records a remove mutation for later replay.
func NewRemoveOperation(productID, optionName string) QueuedOperation {
	return QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       OpRemove,
		Remove:     &RemovePayload{ProductID: productID, OptionName: optionName},
		EnqueuedAt: time.Now(),
	}
}

// NewUpdateOperation records a quantity update for later replay.
func NewUpdateOperation(productID string, quantity int, optionName string) QueuedOperation {
	return QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       OpUpdate,
		Update:     &UpdatePayload{ProductID: productID, Quantity: quantity, OptionName: optionName},
		EnqueuedAt: time.Now(),
	}
}

// NewClearOperation records a cart clear for later replay.
func NewClearOperation() QueuedOperation {
	return QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       OpClear,
		EnqueuedAt: time.Now(),
	}
}
