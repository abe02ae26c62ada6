package perm

import "testing"

func TestCompare(t *testing.T) {
	cases := []struct {
		stored    string
		requested string
		want      Verdict
	}{
		{"chat.send", "chat.send", Found},
		{"chat.send", "CHAT.SEND", Found},
		{"-chat.send", "chat.send", Negation},
		{"+chat.send", "chat.send", Exception},
		{"chat.send", "chat.color", NotFound},
		{"chat.*", "chat.send", Found},
		{"chat.*", "chat.send.color", Found},
		{"-chat.*", "chat.send", Negation},
		{"+chat.*", "chat.send", Exception},
		{"chat.*", "chatter.send", NotFound},
		{"chat.*", "chat", NotFound},
		{"*", "anything.at.all", Found},
		{"-*", "anything.at.all", Negation},
		{"+*", "anything.at.all", Exception},
		{"server", "server.stop", NotFound},
	}
	for _, tc := range cases {
		if got := Compare(tc.stored, tc.requested); got != tc.want {
			t.Fatalf("Compare(%q, %q) = %v, want %v", tc.stored, tc.requested, got, tc.want)
		}
	}
}

func TestCompareIsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		if got := Compare("-chat.*", "chat.send"); got != Negation {
			t.Fatalf("iteration %d: got %v, want %v", i, got, Negation)
		}
	}
}

func TestCompareWildcardExcludesLockoutNode(t *testing.T) {
	if got := Compare("*", NoOfflinePermsNode); got != NotFound {
		t.Fatalf("bare wildcard must not match the lockout node, got %v", got)
	}
	// An explicit grant still matches.
	if got := Compare(NoOfflinePermsNode, NoOfflinePermsNode); got != Found {
		t.Fatalf("explicit lockout grant = %v, want %v", got, Found)
	}
}

func TestVerdictGranted(t *testing.T) {
	if !Found.Granted() || !Exception.Granted() {
		t.Fatalf("Found and Exception must grant")
	}
	if Negation.Granted() || NotFound.Granted() {
		t.Fatalf("Negation and NotFound must not grant")
	}
}
