package strategy

import (
	"testing"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"remote-only", RemoteOnly, false},
		{"RemoteOnly", RemoteOnly, false},
		{"remote_first", RemoteFirst, false},
		{"", RemoteFirst, false},
		{"cache-only", CacheOnly, false},
		{" CacheFirst ", CacheFirst, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPolicyFlagValue(t *testing.T) {
	var p Policy
	if p.String() != string(RemoteFirst) {
		t.Fatalf("zero value: got %q", p.String())
	}
	if err := p.Set("cache_first"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if p != CacheFirst {
		t.Fatalf("after Set: got %q", p)
	}
	if err := p.Set("nope"); err == nil {
		t.Fatal("Set should reject unknown policy")
	}
	if p.Type() != "policy" {
		t.Fatalf("Type: got %q", p.Type())
	}
}
