package metering_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takeoffworks/estimator/pkg/metering"
)

// MockMeter implements Meter for testing
type MockMeter struct {
	events []metering.Event
}

func NewMockMeter() *MockMeter {
	return &MockMeter{events: make([]metering.Event, 0)}
}

func (m *MockMeter) Record(ctx context.Context, event metering.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockMeter) RecordBatch(ctx context.Context, events []metering.Event) error {
	for _, e := range events {
		if err := m.Record(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockMeter) GetUsage(ctx context.Context, projectID string, period metering.Period) (*metering.Usage, error) {
	usage := &metering.Usage{
		ProjectID:  projectID,
		Period:     period,
		Totals:     make(map[metering.EventType]int64),
		LastUpdate: time.Now().UTC(),
	}

	for _, e := range m.events {
		if e.ProjectID == projectID && !e.Timestamp.Before(period.Start) && e.Timestamp.Before(period.End) {
			usage.Totals[e.EventType] += e.Quantity
		}
	}

	return usage, nil
}

func (m *MockMeter) GetUsageByType(ctx context.Context, projectID string, eventType metering.EventType, period metering.Period) (int64, error) {
	usage, err := m.GetUsage(ctx, projectID, period)
	if err != nil {
		return 0, err
	}
	return usage.Totals[eventType], nil
}

func TestMeter_RecordAndGetUsage(t *testing.T) {
	meter := NewMockMeter()
	ctx := context.Background()
	projectID := "proj-123"

	events := []metering.Event{
		{ProjectID: projectID, EventType: metering.EventJobSubmitted, Quantity: 1},
		{ProjectID: projectID, EventType: metering.EventJobSubmitted, Quantity: 1},
		{ProjectID: projectID, EventType: metering.EventPageExtracted, Quantity: 1500},
		{ProjectID: projectID, EventType: metering.EventExportGenerated, Quantity: 3},
	}

	for _, e := range events {
		err := meter.Record(ctx, e)
		require.NoError(t, err)
	}

	usage, err := meter.GetUsage(ctx, projectID, metering.DailyPeriod())
	require.NoError(t, err)

	assert.Equal(t, projectID, usage.ProjectID)
	assert.Equal(t, int64(2), usage.Totals[metering.EventJobSubmitted])
	assert.Equal(t, int64(1500), usage.Totals[metering.EventPageExtracted])
	assert.Equal(t, int64(3), usage.Totals[metering.EventExportGenerated])
}

func TestMeter_GetUsageByType(t *testing.T) {
	meter := NewMockMeter()
	ctx := context.Background()
	projectID := "proj-456"

	err := meter.RecordBatch(ctx, []metering.Event{
		{ProjectID: projectID, EventType: metering.EventCreditDebit, Quantity: 10},
		{ProjectID: projectID, EventType: metering.EventCreditDebit, Quantity: 5},
		{ProjectID: projectID, EventType: metering.EventJobSubmitted, Quantity: 100},
	})
	require.NoError(t, err)

	debits, err := meter.GetUsageByType(ctx, projectID, metering.EventCreditDebit, metering.DailyPeriod())
	require.NoError(t, err)
	assert.Equal(t, int64(15), debits)
}

func TestMeter_ProjectIsolation(t *testing.T) {
	meter := NewMockMeter()
	ctx := context.Background()

	_ = meter.Record(ctx, metering.Event{ProjectID: "proj-a", EventType: metering.EventJobSubmitted, Quantity: 100})
	_ = meter.Record(ctx, metering.Event{ProjectID: "proj-b", EventType: metering.EventJobSubmitted, Quantity: 50})

	usageA, _ := meter.GetUsage(ctx, "proj-a", metering.DailyPeriod())
	usageB, _ := meter.GetUsage(ctx, "proj-b", metering.DailyPeriod())

	assert.Equal(t, int64(100), usageA.Totals[metering.EventJobSubmitted])
	assert.Equal(t, int64(50), usageB.Totals[metering.EventJobSubmitted])
}

func TestPeriods(t *testing.T) {
	daily := metering.DailyPeriod()
	assert.True(t, daily.End.Sub(daily.Start) == 24*time.Hour)

	monthly := metering.MonthlyPeriod()
	assert.True(t, monthly.Start.Day() == 1)
	assert.True(t, monthly.End.After(monthly.Start))
}
