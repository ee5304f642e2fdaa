package domain

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

var codeRe = regexp.MustCompile(`^\d{6}$`)

func TestNewSessionCode_Format(t *testing.T) {
	for i := 0; i < 1000; i++ {
		c := NewSessionCode()
		if !codeRe.MatchString(string(c)) {
			t.Fatalf("code %q does not match ^\\d{6}$", c)
		}
		if c[0] == '0' {
			t.Fatalf("code %q below 100000", c)
		}
	}
}

func TestParseSessionCode(t *testing.T) {
	tests := []struct {
		in      string
		want    SessionCode
		wantErr bool
	}{
		{in: "482913", want: "482913"},
		{in: " 482913\n", want: "482913"},
		{in: "012345", want: "012345"},
		{in: "48291", wantErr: true},
		{in: "4829134", wantErr: true},
		{in: "48a913", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSessionCode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidCode) {
				t.Errorf("ParseSessionCode(%q) err = %v, want ErrInvalidCode", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseSessionCode(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestHubAddress(t *testing.T) {
	if got := SessionCode("482913").HubAddress(); got != "room_482913" {
		t.Errorf("HubAddress = %q", got)
	}
}

func TestNewParticipantID(t *testing.T) {
	a, b := NewParticipantID(), NewParticipantID()
	if a == b {
		t.Fatalf("ids collide: %q", a)
	}
	if !strings.HasPrefix(string(a), "user_") {
		t.Errorf("id %q lacks user_ prefix", a)
	}
}

func TestNormalizeUsername(t *testing.T) {
	if _, err := NormalizeUsername("   "); !errors.Is(err, ErrUsernameEmpty) {
		t.Errorf("blank name err = %v", err)
	}
	if _, err := NormalizeUsername(strings.Repeat("x", MaxUsernameLen+1)); !errors.Is(err, ErrUsernameTooLong) {
		t.Errorf("long name err = %v", err)
	}
	got, err := NormalizeUsername("  Alex ")
	if err != nil || got != "Alex" {
		t.Errorf("NormalizeUsername = %q, %v", got, err)
	}
}

func TestRoll(t *testing.T) {
	r, err := Roll("3d6+2")
	if err != nil {
		t.Fatalf("Roll: %v", err)
	}
	if len(r.Results) != 3 || r.Modifier != 2 {
		t.Fatalf("unexpected roll %+v", r)
	}
	sum := 2
	for _, v := range r.Results {
		if v < 1 || v > 6 {
			t.Fatalf("die out of range: %d", v)
		}
		sum += v
	}
	if r.Total != sum {
		t.Errorf("Total = %d, want %d", r.Total, sum)
	}

	if r, err := Roll("d20"); err != nil || len(r.Results) != 1 {
		t.Errorf("Roll(d20) = %+v, %v", r, err)
	}
	for _, bad := range []string{"", "6", "xd6", "2d", "0d6", "2d1", "2d6+x"} {
		if _, err := Roll(bad); !errors.Is(err, ErrBadDiceExpression) {
			t.Errorf("Roll(%q) err = %v", bad, err)
		}
	}
}
