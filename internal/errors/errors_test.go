package errors

import "testing"

func TestCategories(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		fetch  bool
		record bool
		retry  bool
	}{
		{name: "fetch", err: Wrap(ErrFetch, "donki"), fetch: true, retry: true},
		{name: "timeout", err: Wrap(ErrFetchTimeout, "lmsal"), fetch: true, retry: true},
		{name: "parse", err: NewParse("lmsal", "bad row"), record: true},
		{name: "validation", err: NewValidation("class", "empty"), record: true},
		{name: "missing field", err: NewMissingField("start_time"), record: true},
		{name: "store", err: Wrapf(ErrStore, "segment %s", "2025-11"), retry: true},
		{name: "not found", err: NewNotFound("event", "flr-x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFetch(tt.err); got != tt.fetch {
				t.Errorf("IsFetch = %v, want %v", got, tt.fetch)
			}
			if got := IsRecordError(tt.err); got != tt.record {
				t.Errorf("IsRecordError = %v, want %v", got, tt.record)
			}
			if got := IsRetriable(tt.err); got != tt.retry {
				t.Errorf("IsRetriable = %v, want %v", got, tt.retry)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestInvalidConfigCarriesField(t *testing.T) {
	err := NewInvalidConfig("dedup.tolerance", "must be positive")
	if !Is(err, ErrInvalidConfig) {
		t.Error("expected ErrInvalidConfig")
	}
	if err.Error() != "dedup.tolerance: must be positive: invalid configuration" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestNotFoundCarriesIdentity(t *testing.T) {
	err := NewNotFound("event", "flr-20251102T1235-c4267")
	if !Is(err, ErrNotFound) {
		t.Error("expected ErrNotFound")
	}
	if err.Error() != `event "flr-20251102T1235-c4267": not found` {
		t.Errorf("message = %q", err.Error())
	}
}
