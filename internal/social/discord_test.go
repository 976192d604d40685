package social

import "testing"

func TestInferInvite(t *testing.T) {
	tests := []struct {
		weburl string
		invite string
		ok     bool
	}{
		{"discord.gg/abc123", "abc123", true},
		{"https://discord.gg/abc123", "abc123", true},
		{"https://DISCORD.GG/AbC123", "AbC123", true},
		{"https://discord.com/invite/my-server", "my-server", true},
		{"https://discordapp.com/invite/xyz", "xyz", true},
		{"come play at discord.gg/srv and bring friends", "srv", true},
		{"www.example.com", "", false},
		{"discord.gg/", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		invite, ok := InferInvite(tt.weburl)
		if ok != tt.ok || invite != tt.invite {
			t.Errorf("InferInvite(%q) = (%q, %v), want (%q, %v)", tt.weburl, invite, ok, tt.invite, tt.ok)
		}
	}
}
