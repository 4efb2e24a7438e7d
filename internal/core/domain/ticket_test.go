package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketStatus_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		status domain.TicketStatus
		want   bool
	}{
		{"To Do is valid", domain.StatusToDo, true},
		{"Blocked is valid", domain.StatusBlocked, true},
		{"In Progress is valid", domain.StatusInProgress, true},
		{"Done is valid", domain.StatusDone, true},
		{"negative is invalid", domain.TicketStatus(-1), false},
		{"4 is invalid", domain.TicketStatus(4), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsValid())
		})
	}
}

func TestTicketPriority_IsValid(t *testing.T) {
	assert.True(t, domain.PriorityHigh.IsValid())
	assert.True(t, domain.PriorityLow.IsValid())
	assert.False(t, domain.TicketPriority(3).IsValid())
	assert.Equal(t, "Medium", domain.PriorityMedium.String())
}

func TestDepartmentName(t *testing.T) {
	assert.Equal(t, "Fleet", domain.DepartmentName(0))
	assert.Equal(t, "Accounting", domain.DepartmentName(6))
	assert.Equal(t, "Unknown", domain.DepartmentName(7))
}

func TestTicketPatch_ApplyTo(t *testing.T) {
	ticket := domain.TicketSummary{ID: "t1", Status: domain.StatusToDo, Department: 2, Priority: domain.PriorityLow}

	var patch domain.TicketPatch
	require.NoError(t, json.Unmarshal([]byte(`{"id":"t1","status":2}`), &patch))
	require.False(t, patch.IsEmpty())

	patch.ApplyTo(&ticket)

	assert.Equal(t, domain.StatusInProgress, ticket.Status)
	assert.Equal(t, 2, ticket.Department, "absent fields are left untouched")
	assert.Equal(t, domain.PriorityLow, ticket.Priority)
	assert.Nil(t, ticket.UpdatedAt)
}

func TestTicketPatch_IsEmpty(t *testing.T) {
	assert.True(t, domain.TicketPatch{ID: "t1"}.IsEmpty())
}

func TestTicketLink(t *testing.T) {
	assert.Equal(t, "/dashboard/tasks/t-9", domain.TicketLink("t-9"))
}
