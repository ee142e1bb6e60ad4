package reputation

import (
	"strings"
	"testing"
)

func TestCheckTrust(t *testing.T) {
	now := int64(100 * day)
	policy := DefaultTrustPolicy()

	tests := []struct {
		name       string
		subject    TrustSubject
		trusted    bool
		reasonHint string
	}{
		{
			name:       "meets all criteria",
			subject:    TrustSubject{Score: 75, TotalActions: 12, IsActive: true, LastActionAt: now - day},
			trusted:    true,
			reasonHint: "meets all",
		},
		{
			name:       "deactivated first",
			subject:    TrustSubject{Score: 10, TotalActions: 0, IsActive: false, LastActionAt: now},
			reasonHint: "deactivated",
		},
		{
			name:       "low score",
			subject:    TrustSubject{Score: 59, TotalActions: 50, IsActive: true, LastActionAt: now},
			reasonHint: "below minimum 60",
		},
		{
			name:       "too few actions",
			subject:    TrustSubject{Score: 90, TotalActions: 9, IsActive: true, LastActionAt: now},
			reasonHint: "only 9 actions",
		},
		{
			name:       "inactive too long",
			subject:    TrustSubject{Score: 90, TotalActions: 10, IsActive: true, LastActionAt: now - 31*day},
			reasonHint: "no activity in 31 days",
		},
		{
			name:       "exactly 30 days is recent",
			subject:    TrustSubject{Score: 60, TotalActions: 10, IsActive: true, LastActionAt: now - 30*day},
			trusted:    true,
			reasonHint: "meets all",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.CheckTrust(tt.subject, now)
			if got.Trusted != tt.trusted {
				t.Errorf("Trusted = %v, want %v (%s)", got.Trusted, tt.trusted, got.Reason)
			}
			if !strings.Contains(got.Reason, tt.reasonHint) {
				t.Errorf("Reason = %q, want it to contain %q", got.Reason, tt.reasonHint)
			}
			if got.Score != tt.subject.Score {
				t.Errorf("Score = %d, want %d", got.Score, tt.subject.Score)
			}
		})
	}
}

func TestCheckTrust_Details(t *testing.T) {
	got := DefaultTrustPolicy().CheckTrust(TrustSubject{Score: 70, TotalActions: 3, IsActive: true, LastActionAt: 0}, 0)
	want := TrustDetails{MeetsMinScore: true, MeetsMinActions: false, IsActive: true, RecentActivity: true}
	if got.Details != want {
		t.Errorf("Details = %+v, want %+v", got.Details, want)
	}
}

func TestNotFoundTrust(t *testing.T) {
	r := NotFoundTrust()
	if r.Trusted || r.Reason != "agent not found" || r.Details != (TrustDetails{}) {
		t.Errorf("unexpected not-found result %+v", r)
	}
}
