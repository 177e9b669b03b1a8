package ics_test

import (
	"testing"
	"time"

	"github.com/teambition/rrule-go"

	"skylightcal/internal/ics"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 4, 23, 18, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"fractional utc", "2024-04-23T18:00:00.000Z", want, false},
		{"fractional without zone", "2024-04-23T18:00:00.123456", want, false},
		{"whole seconds utc", "2024-04-23T18:00:00Z", want, false},
		{"bare", "2024-04-23T18:00:00", want, false},
		{"padded", "  2024-04-23T18:00:00.000Z ", want, false},
		{"empty", "", time.Time{}, true},
		{"date only", "2024-04-23", time.Time{}, true},
		{"garbage", "yesterday", time.Time{}, true},
		{"out of range", "2024-13-40T18:00:00.000Z", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ics.ParseTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if err == nil && got.Location() != time.UTC {
				t.Errorf("location = %v, want UTC", got.Location())
			}
		})
	}
}

func TestParseRecurrence_UntilConverted(t *testing.T) {
	eastern := time.FixedZone("EST", -5*3600)
	r := ics.ParseRecurrence("FREQ=WEEKLY;WKST=SU;INTERVAL=1;BYDAY=TU;UNTIL=20241231", eastern)

	if !r.Converted() {
		t.Fatal("expected UNTIL to be converted")
	}
	if want := time.Date(2024, 12, 31, 0, 0, 0, 0, eastern); !r.Until.Equal(want) {
		t.Errorf("Until = %v, want %v", r.Until, want)
	}
	if got, want := r.String(), "FREQ=WEEKLY;WKST=SU;INTERVAL=1;BYDAY=TU;UNTIL=20241231T050000Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	for key, want := range map[string]string{"FREQ": "WEEKLY", "WKST": "SU", "INTERVAL": "1", "BYDAY": "TU"} {
		if got := r.Value(key); got != want {
			t.Errorf("Value(%s) = %q, want %q", key, got, want)
		}
	}
	if got := r.Value("UNTIL"); got != "20241231T050000Z" {
		t.Errorf("Value(UNTIL) = %q", got)
	}

	freq, ok := r.Freq()
	if !ok || freq != rrule.WEEKLY {
		t.Errorf("Freq() = %v, %v", freq, ok)
	}
	if r.Options.Interval != 1 {
		t.Errorf("Interval = %d", r.Options.Interval)
	}
	if r.Options.Wkst != rrule.SU {
		t.Errorf("Wkst = %v", r.Options.Wkst)
	}
	if len(r.Options.Byweekday) != 1 || r.Options.Byweekday[0] != rrule.TU {
		t.Errorf("Byweekday = %v", r.Options.Byweekday)
	}
	if !r.Options.Until.Equal(r.Until) {
		t.Errorf("Options.Until = %v, want %v", r.Options.Until, r.Until)
	}
}

func TestParseRecurrence_Verbatim(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no until", "FREQ=DAILY;INTERVAL=2", "FREQ=DAILY;INTERVAL=2"},
		{"count", "FREQ=MONTHLY;BYDAY=+1MO;COUNT=10", "FREQ=MONTHLY;BYDAY=+1MO;COUNT=10"},
		{"prefix stripped", "RRULE:FREQ=YEARLY", "FREQ=YEARLY"},
		{"unparseable until", "FREQ=DAILY;UNTIL=2024XX31", "FREQ=DAILY;UNTIL=2024XX31"},
		{"short until", "FREQ=DAILY;UNTIL=2024", "FREQ=DAILY;UNTIL=2024"},
		{"clause without equals", "FREQ=DAILY;BOGUS;UNTIL=20241231", "FREQ=DAILY;BOGUS;UNTIL=20241231"},
		{"unknown keys", "FREQ=DAILY;X-NAME=foo", "FREQ=DAILY;X-NAME=foo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ics.ParseRecurrence(tt.in, time.UTC)
			if r.Converted() {
				t.Errorf("unexpected conversion, Until = %v", r.Until)
			}
			if got := r.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRecurrence_UntilWithTimeUsesDateOnly(t *testing.T) {
	r := ics.ParseRecurrence("FREQ=DAILY;UNTIL=20240615T235959Z", time.UTC)
	if got, want := r.String(), "FREQ=DAILY;UNTIL=20240615T000000Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseRecurrence_UnknownKeysKeepClauses(t *testing.T) {
	r := ics.ParseRecurrence("FREQ=DAILY;X-NAME=foo;UNTIL=20240615", time.UTC)
	if r.Options != nil {
		t.Error("rrule-go should reject X-NAME")
	}
	if got, want := r.String(), "FREQ=DAILY;X-NAME=foo;UNTIL=20240615T000000Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if _, ok := r.Freq(); ok {
		t.Error("Freq() should be unknown without Options")
	}
}

func TestParseRecurrence_KeepsClauseCase(t *testing.T) {
	r := ics.ParseRecurrence("freq=daily;Interval=2;until=20241231", time.UTC)
	if !r.Converted() {
		t.Fatal("expected lower-case UNTIL to be converted")
	}
	if got, want := r.String(), "freq=daily;Interval=2;until=20241231T000000Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := r.Value("FREQ"); got != "daily" {
		t.Errorf("Value(FREQ) = %q", got)
	}
	if got := r.Value("Until"); got != "20241231T000000Z" {
		t.Errorf("Value(Until) = %q", got)
	}
}
