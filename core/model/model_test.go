package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to StopStatus
		want     bool
	}{
		{StopPending, StopOnTheWay, true},
		{StopOnTheWay, StopArrived, true},
		{StopArrived, StopCompleted, true},
		{StopPending, StopArrived, false},
		{StopPending, StopCompleted, false},
		{StopArrived, StopOnTheWay, false},
		{StopOnTheWay, StopOnTheWay, false},
		{StopPending, StopCancelled, true},
		{StopArrived, StopCancelled, true},
		{StopCompleted, StopCancelled, false},
		{StopCancelled, StopPending, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("%s -> %s: got %v want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStopAssignedTo(t *testing.T) {
	r := Route{ID: "r1", DriverID: "d1"}
	assert.True(t, Stop{DriverID: "d2"}.AssignedTo(r, "d2", ""))
	assert.False(t, Stop{DriverID: "d2"}.AssignedTo(r, "d1", ""))
	assert.True(t, Stop{DriverName: " Alice Martin "}.AssignedTo(r, "d9", "alice martin"))
	assert.False(t, Stop{DriverName: "Bob"}.AssignedTo(r, "d1", "alice"))
	assert.True(t, Stop{}.AssignedTo(r, "d1", ""))
	assert.False(t, Stop{}.AssignedTo(Route{}, "", ""))
}

func TestApplyStampsTimestamp(t *testing.T) {
	at := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	var s Stop
	s.Apply(StopOnTheWay, at)
	if s.OnTheWayTime == nil || !s.OnTheWayTime.Equal(at) {
		t.Fatalf("onTheWayTime not set")
	}
	s.Apply(StopCompleted, at.Add(time.Hour))
	if s.CompletionTime == nil || s.ArrivalTime != nil {
		t.Fatalf("unexpected timestamps %+v", s)
	}
}

func TestComplete(t *testing.T) {
	assert.True(t, Complete([]Stop{{Status: StopCompleted}, {Status: StopCancelled}}))
	assert.False(t, Complete([]Stop{{Status: StopCompleted}, {Status: StopArrived}}))
	assert.False(t, Complete([]Stop{{Status: StopCancelled}}))
	assert.False(t, Complete(nil))
}

func TestCapabilities(t *testing.T) {
	super := Actor{Role: RoleSuperAdmin}
	assert.True(t, super.Can(CapAdmin))
	assert.True(t, super.Can(CapSuperAdmin))
	assert.False(t, super.Can(CapDriver))
	assert.False(t, Actor{Role: RoleAdmin}.Can(CapSuperAdmin))
	assert.True(t, Actor{Role: RoleDriver}.Can(CapDriver))
	assert.False(t, Actor{Role: "GUEST"}.IsAdmin())
}

func TestComputeKPI(t *testing.T) {
	now := time.Now()
	deleted := now
	k := ComputeKPI(KPIKey{DriverID: "d1", Date: "2024-05-02"}, []Stop{
		{Status: StopCompleted, Amount: 12.5},
		{Status: StopPending, Amount: 3},
		{Status: StopCancelled, Amount: 8},
		{Status: StopCompleted, Amount: 4, DeletedAt: &deleted},
	}, now)
	assert.Equal(t, 2, k.StopsTotal)
	assert.Equal(t, 1, k.StopsCompleted)
	assert.InDelta(t, 12.5, k.TotalDelivered, 1e-9)
}

func TestDay(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	ts := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-05-02", Day(ts, paris))
	assert.Equal(t, "2024-05-01", Day(ts, time.UTC))
}
