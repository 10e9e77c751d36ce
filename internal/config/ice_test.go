package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseICEDocument(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"json": `[
  {"urls": "stun:stun.example.com:3478"},
  {"urls": ["turn:turn.example.com:3478?transport=udp", " "], "username": "user", "credential": "pass"}
]`,
		"yaml": `
- urls: stun:stun.example.com:3478
- urls:
    - turn:turn.example.com:3478?transport=udp
    - " "
  username: user
  credential: pass
`,
	}
	for name, raw := range tests {
		servers, err := parseICEDocument(raw)
		if err != nil {
			t.Fatalf("%s: parseICEDocument: %v", name, err)
		}
		if len(servers) != 2 {
			t.Fatalf("%s: len=%d, want 2", name, len(servers))
		}
		if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
			t.Fatalf("%s: stun urls=%#v", name, got)
		}
		if got := servers[1].URLs; len(got) != 1 {
			t.Fatalf("%s: blank urls should be dropped: %#v", name, got)
		}
		if cred, ok := servers[1].Credential.(string); !ok || cred != "pass" {
			t.Fatalf("%s: credential=%#v", name, servers[1].Credential)
		}
	}
}

func TestParseICEDocumentRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "not a document", raw: `{`},
		{name: "bad scheme", raw: `[{"urls":"http://example.com"}]`, want: ErrICEScheme},
		{name: "no scheme", raw: `[{"urls":"stun.example.com"}]`, want: ErrICEScheme},
		{name: "empty url list", raw: `[{"urls":[]}]`},
		{name: "turn without credentials", raw: `[{"urls":"turn:turn.example.com"}]`, want: ErrTURNCredentials},
		{name: "turns without credential", raw: `[{"urls":"turns:turn.example.com","username":"u"}]`, want: ErrTURNCredentials},
		{name: "urls mapping", raw: `[{"urls":{"a":"b"}}]`},
	}
	for _, tt := range tests {
		_, err := parseICEDocument(tt.raw)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Fatalf("%s: err=%v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestICESettingsShorthand(t *testing.T) {
	t.Parallel()

	s := iceSettings{
		stunURLs:       "stun:a.example.com, stun:b.example.com",
		turnURLs:       "turn:t.example.com",
		turnUsername:   "u",
		turnCredential: "p",
	}
	servers, err := s.servers()
	if err != nil {
		t.Fatalf("servers: %v", err)
	}
	if len(servers) != 2 || len(servers[0].URLs) != 2 {
		t.Fatalf("servers=%#v", servers)
	}
	if servers[1].Username != "u" {
		t.Fatalf("turn username=%q", servers[1].Username)
	}

	s.turnCredential = " "
	if _, err := s.servers(); !errors.Is(err, ErrTURNCredentials) {
		t.Fatalf("err=%v, want ErrTURNCredentials", err)
	}

	// The document wins over the shorthand.
	s.document = `[{"urls":"stun:doc.example.com"}]`
	servers, err = s.servers()
	if err != nil {
		t.Fatalf("servers with document: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:doc.example.com" {
		t.Fatalf("servers=%#v, want the document's", servers)
	}
}

func TestICESettingsLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.yaml")
	body := "turn_urls: turn:file.example.com\nturn_username: file-user\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	// File alone: TURN without a credential is rejected.
	cfg, err := load(withDomain(map[string]string{envVarConfigFile: path}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ICEConfigError(); !errors.Is(err, ErrTURNCredentials) {
		t.Fatalf("ICEConfigError=%v, want ErrTURNCredentials", err)
	}

	// Env supplies the credential, a flag overrides the username.
	cfg, err = load(withDomain(map[string]string{
		envVarConfigFile:  path,
		envTurnCredential: "env-secret",
	}), []string{"--turn-username", "flag-user"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError: %v", err)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers=%#v, want one TURN server", cfg.ICEServers)
	}
	got := cfg.ICEServers[0]
	if got.URLs[0] != "turn:file.example.com" || got.Username != "flag-user" || got.Credential != "env-secret" {
		t.Fatalf("ICEServers[0]=%#v", got)
	}
}
