package time

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"2021-03-04", "2021-03-04"},
		{"04.03.2021", "2021-03-04"},
		{"4.3.2021", "2021-03-04"},
		{"04/03/2021", "2021-03-04"},
		{"2021-03-04T23:59:59.000Z", "2021-03-04"},
		{"2021-03-04T01:00:00+03:00", "2021-03-03"},
		{" 2021-03-04 10:00:00 ", "2021-03-04"},
		{"", ""},
		{"unknown", ""},
	}
	for _, c := range cases {
		got, ok := ParseDate(c.in)
		if c.want == "" {
			if ok {
				t.Errorf("ParseDate(%q) = %s, want failure", c.in, got)
			}
			continue
		}
		if !ok || got.Format(time.DateOnly) != c.want {
			t.Errorf("ParseDate(%q) = %s,%v want %s", c.in, got, ok, c.want)
		}
	}
}

func TestPtr(t *testing.T) {
	t.Parallel()

	if Ptr(time.Time{}) != nil {
		t.Fatalf("zero time should be nil")
	}
	now := time.Now()
	if p := Ptr(now); p == nil || !p.Equal(now) {
		t.Fatalf("Ptr lost value")
	}
}
