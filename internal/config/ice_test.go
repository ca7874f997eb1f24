package config

import "testing"

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["stun:stun.example.com:3478"]
	  },
	  {
	    "urls": ["turn:turn.example.com:3478?transport=udp"],
	    "username": "user",
	    "credential": "pass"
	  }
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}

	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].Username; got != "user" {
		t.Fatalf("unexpected username: %q", got)
	}
	cred, ok := servers[1].Credential.(string)
	if !ok || cred != "pass" {
		t.Fatalf("unexpected credential: %#v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_SupportsSingleStringURLs(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": "stun:stun.example.com:3478"
	  }
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
}

func TestParseICEServersJSON_RejectsTURNWithoutCreds(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["turn:turn.example.com:3478?transport=udp"]
	  }
	]`

	if _, err := ParseICEServersJSON(raw); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseICEServersJSON_RejectsUnknownScheme(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["https://example.com"]
	  }
	]`

	if _, err := ParseICEServersJSON(raw); err == nil {
		t.Fatal("expected error")
	}
}

func TestICEServersConvenienceEnv(t *testing.T) {
	t.Parallel()

	cfg := Config{
		STUNURLs:       "stun:stun1.example.com:3478, stun:stun2.example.com:3478",
		TURNURLs:       "turn:turn.example.com:3478",
		TURNUsername:   "user",
		TURNCredential: "pass",
	}
	servers, err := cfg.ICEServers()
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 2 {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if servers[1].Username != "user" {
		t.Fatalf("unexpected turn username: %q", servers[1].Username)
	}
}

func TestICEServersJSONWinsOverConvenience(t *testing.T) {
	t.Parallel()

	cfg := Config{
		ICEServersJSON: `[{"urls": "stun:json.example.com:3478"}]`,
		STUNURLs:       "stun:convenience.example.com:3478",
	}
	servers, err := cfg.ICEServers()
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example.com:3478" {
		t.Fatalf("unexpected servers: %#v", servers)
	}
}

func TestICEServersEmptyConfig(t *testing.T) {
	t.Parallel()

	servers, err := Config{}.ICEServers()
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 0 {
		t.Fatalf("expected no servers, got %#v", servers)
	}
}
