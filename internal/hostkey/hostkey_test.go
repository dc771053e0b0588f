package hostkey

import "testing"

func TestExtract(t *testing.T) {
	cases := map[string]string{
		"https://www.example.com/about": "example.com",
		"http://example.com":            "example.com",
		"https://sub.example.co.uk/x":   "sub.example.co.uk",
		"":                              "unknown",
	}
	for in, want := range cases {
		if got := Extract(in); got != want {
			t.Errorf("Extract(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShardStable(t *testing.T) {
	h := "example.com"
	first := Shard(h, 64)
	for i := 0; i < 100; i++ {
		if Shard(h, 64) != first {
			t.Fatalf("Shard is not deterministic")
		}
	}
	if Shard(h, 1) != 0 {
		t.Fatalf("Shard with n=1 must return 0")
	}
}
