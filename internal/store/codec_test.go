package store

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodeToken(t *testing.T) {
	cases := []struct {
		entry   string
		token   string
		expires int64
		wantErr bool
	}{
		{"chat.send", "chat.send", 0, false},
		{"event.fly|1234", "event.fly", 1234, false},
		{"-craft.*", "-craft.*", 0, false},
		{"event.fly|notanumber", "", 0, true},
		{"|1234", "", 0, true},
	}
	for _, tc := range cases {
		token, expires, err := DecodeToken(tc.entry)
		if tc.wantErr {
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("%q: expected ErrCorrupt, got %v", tc.entry, err)
			}
			continue
		}
		if err != nil || token != tc.token || expires != tc.expires {
			t.Fatalf("%q: got %q %d %v", tc.entry, token, expires, err)
		}
	}
}

func TestEncodeTokensOrdering(t *testing.T) {
	got := EncodeTokens([]string{"-b.perm", "a.perm"}, map[string]int64{
		"z.timed": 10,
		"m.timed": 20,
	})
	want := []string{"-b.perm", "a.perm", "m.timed|20", "z.timed|10"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EncodeTokens = %v, want %v", got, want)
	}
}

func TestSplitTokens(t *testing.T) {
	got := SplitTokens(" a.perm ,, b.perm|5 ")
	want := []string{"a.perm", "b.perm|5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitTokens = %v, want %v", got, want)
	}
	if SplitTokens("  ") != nil {
		t.Fatalf("blank blob should split to nil")
	}
}
