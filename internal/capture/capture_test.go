package capture

import "testing"

func TestValidateFilterExpressionAllowList(t *testing.T) {
	valid := []string{
		"tcp",
		"tcp and port 8080",
		"host 10.0.0.1",
		"net 10.0.0.0/8",
		"tcp and tcp[13]=2",
	}
	for _, expr := range valid {
		if err := ValidateFilterExpression(expr); err != nil {
			t.Errorf("expected %q to be valid, got %v", expr, err)
		}
	}

	invalid := []string{
		"tcp; rm -rf /",
		"tcp | cat /etc/passwd",
		"tcp & echo hi",
		"tcp `whoami`",
		"drop table",
	}
	for _, expr := range invalid {
		if err := ValidateFilterExpression(expr); err == nil {
			t.Errorf("expected %q to be rejected", expr)
		}
	}
}

func TestValidateFilterExpressionLengthLimit(t *testing.T) {
	long := "tcp and port 1"
	for len(long) <= maxFilterLength {
		long += "0"
	}
	if err := ValidateFilterExpression(long); err == nil {
		t.Fatal("expected an expression over the length limit to be rejected")
	}
}

func TestCanonicalInterfaceID(t *testing.T) {
	cases := map[string]string{
		"{ABC}": "abc",
		"{abc}": "abc",
		"abc":   "abc",
	}
	for in, want := range cases {
		if got := CanonicalInterfaceID(in); got != want {
			t.Errorf("CanonicalInterfaceID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidInterfaceID(t *testing.T) {
	if !ValidInterfaceID("eth0") {
		t.Error("eth0 should be valid")
	}
	if !ValidInterfaceID("{4D36E972-E325-11CE-BFC1-08002BE10318}") {
		t.Error("braced GUID should be valid")
	}
	if ValidInterfaceID("") {
		t.Error("empty id should be invalid")
	}
	if ValidInterfaceID("eth0; rm -rf") {
		t.Error("id with shell metacharacters should be invalid")
	}
}
