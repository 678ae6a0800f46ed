package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	event := &Event{}
	err := event.Validate()
	require.Error(t, err)

	var validation *ValidationErrors
	require.True(t, errors.As(err, &validation))
	require.Len(t, validation.Errors, 3)
	require.Contains(t, err.Error(), "entity_id")

	event = &Event{Type: EventTypeFireMatched, EntityType: EntityTypeEvent, EntityID: "bits"}
	require.NoError(t, event.Validate())
}
