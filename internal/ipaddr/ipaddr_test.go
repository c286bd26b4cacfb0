package ipaddr

import "testing"

func TestIsValid(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{name: "public address", candidate: "8.8.8.8", want: true},
		{name: "all zeros", candidate: "0.0.0.0", want: true},
		{name: "upper bound", candidate: "255.255.255.255", want: true},
		{name: "leading zero octet", candidate: "010.1.1.1", want: true},
		{name: "empty", candidate: "", want: false},
		{name: "octet out of range", candidate: "999.999.999.999", want: false},
		{name: "256 octet", candidate: "1.2.3.256", want: false},
		{name: "three octets", candidate: "1.2.3", want: false},
		{name: "five octets", candidate: "1.2.3.4.5", want: false},
		{name: "empty octet", candidate: "1..3.4", want: false},
		{name: "trailing dot", candidate: "1.2.3.4.", want: false},
		{name: "leading dot", candidate: ".1.2.3", want: false},
		{name: "letters", candidate: "a.b.c.d", want: false},
		{name: "leading whitespace", candidate: " 1.2.3.4", want: false},
		{name: "trailing garbage", candidate: "1.2.3.4abc", want: false},
		{name: "four digit octet", candidate: "1.2.3.0004", want: false},
		{name: "negative octet", candidate: "1.2.-3.4", want: false},
		{name: "ipv6 rejected by default", candidate: "2001:4860:4860::8888", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.candidate); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestValidatorAllowIPv6(t *testing.T) {
	v := Validator{AllowIPv6: true}

	tests := []struct {
		candidate string
		want      bool
	}{
		{"2001:4860:4860::8888", true},
		{"::1", true},
		{"1.2.3.4", true},
		{"::ffff:1.2.3.4", false},
		{"fe80::1%eth0", false},
		{"2001:::1", false},
		{"not-an-ip", false},
	}

	for _, tt := range tests {
		if got := v.IsValid(tt.candidate); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.candidate, got, tt.want)
		}
	}

	if (Validator{}).IsValid("::1") {
		t.Error("zero Validator must reject IPv6")
	}
}
