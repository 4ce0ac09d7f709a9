package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateTransitionGraph(t *testing.T) {
	cases := []struct {
		name      string
		current   BookingStatus
		requested BookingStatus
		role      Role
		wantErr   error
	}{
		{"provider accepts pending", StatusPending, StatusAccepted, RoleProvider, nil},
		{"provider rejects pending", StatusPending, StatusRejected, RoleProvider, nil},
		{"customer cancels pending", StatusPending, StatusCancelled, RoleCustomer, nil},
		{"customer cancels accepted", StatusAccepted, StatusCancelled, RoleCustomer, nil},
		{"provider departs", StatusAccepted, StatusProviderEnRoute, RoleProvider, nil},
		{"provider arrives", StatusProviderEnRoute, StatusProviderArrived, RoleProvider, nil},
		{"provider starts", StatusProviderArrived, StatusInProgress, RoleProvider, nil},
		{"provider completes", StatusInProgress, StatusCompleted, RoleProvider, nil},

		{"customer cannot accept", StatusPending, StatusAccepted, RoleCustomer, ErrForbidden},
		{"customer cannot advance", StatusAccepted, StatusProviderEnRoute, RoleCustomer, ErrForbidden},
		{"cancel after departure", StatusProviderEnRoute, StatusCancelled, RoleCustomer, ErrInvalidTransition},
		{"no skipping ahead", StatusAccepted, StatusInProgress, RoleProvider, ErrInvalidTransition},
		{"no going back", StatusProviderArrived, StatusAccepted, RoleProvider, ErrInvalidTransition},
		{"completed is final", StatusCompleted, StatusCancelled, RoleCustomer, ErrInvalidTransition},
		{"rejected is final", StatusRejected, StatusAccepted, RoleProvider, ErrInvalidTransition},
		{"cancelled is final", StatusCancelled, StatusAccepted, RoleProvider, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTransition(tc.current, tc.requested, tc.role)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestTransitionErrorCarriesCurrentStatus(t *testing.T) {
	err := ValidateTransition(StatusCompleted, StatusCancelled, RoleCustomer)
	var transitionErr *TransitionError
	require.True(t, errors.As(err, &transitionErr))
	require.Equal(t, StatusCompleted, transitionErr.Current)
	require.Equal(t, StatusCancelled, transitionErr.Requested)
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []BookingStatus{StatusCompleted, StatusRejected, StatusCancelled} {
		require.True(t, s.Terminal(), s)
	}
	for _, s := range ActiveStatuses {
		require.False(t, s.Terminal(), s)
	}
}

func TestNextWalksForwardChain(t *testing.T) {
	order := []BookingStatus{StatusAccepted, StatusProviderEnRoute, StatusProviderArrived, StatusInProgress, StatusCompleted}
	for i := 0; i < len(order)-1; i++ {
		next, ok := order[i].Next()
		require.True(t, ok)
		require.Equal(t, order[i+1], next)
	}
	_, ok := StatusCompleted.Next()
	require.False(t, ok)
	// Acceptance is an explicit decision, not a forward step.
	_, ok = StatusPending.Next()
	require.False(t, ok)
}

func TestOverlapsHalfOpen(t *testing.T) {
	start := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	b := Booking{ScheduledAt: start, DurationMin: 60}

	require.True(t, b.Overlaps(start.Add(30*time.Minute), start.Add(90*time.Minute)))
	require.True(t, b.Overlaps(start.Add(-30*time.Minute), start.Add(30*time.Minute)))
	require.True(t, b.Overlaps(start.Add(59*time.Minute), start.Add(119*time.Minute)))

	// Touching boundaries do not overlap.
	require.False(t, b.Overlaps(start.Add(60*time.Minute), start.Add(120*time.Minute)))
	require.False(t, b.Overlaps(start.Add(-60*time.Minute), start))
}

func TestETAMinutesPrefersTraffic(t *testing.T) {
	require.Equal(t, 13, ETA{DurationSeconds: 780}.Minutes())
	require.Equal(t, 19, ETA{DurationSeconds: 780, DurationInTrafficSeconds: 1140}.Minutes())
	require.Equal(t, 2, ETA{DurationSeconds: 61}.Minutes())
}

func TestMaskedRoundsToThreeDecimals(t *testing.T) {
	p := GeoPoint{Lat: 40.754912, Lng: -73.984183}
	require.Equal(t, GeoPoint{Lat: 40.755, Lng: -73.984}, p.Masked())
}
