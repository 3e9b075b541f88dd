package inventory

import "testing"

func TestActiveStatuses(t *testing.T) {
	cases := map[Status]bool{
		StatusInquiry:    false,
		StatusReserved:   true,
		StatusConfirmed:  true,
		StatusCheckedIn:  true,
		StatusCheckedOut: true,
		StatusCancelled:  false,
	}
	for status, want := range cases {
		if got := status.IsActive(); got != want {
			t.Errorf("%s.IsActive() = %v, want %v", status, got, want)
		}
	}
}
