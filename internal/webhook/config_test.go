package webhook

import (
	"testing"

	"github.com/mattjoyce/hookd/internal/config"
	"github.com/mattjoyce/hookd/internal/hook"
)

func TestFromGlobalConfig(t *testing.T) {
	cfg, err := FromGlobalConfig(&config.WebhooksConfig{
		Listen: "127.0.0.1:8081",
		Endpoints: []config.WebhookEndpoint{
			{Path: "/a", Secret: "s"},
			{Path: "/b", Secret: "s", Event: "node-reinstall", SignatureHeader: "X-Sig", MaxBodySize: "64KiB"},
		},
	})
	if err != nil {
		t.Fatalf("FromGlobalConfig: %v", err)
	}
	a, b := cfg.Endpoints[0], cfg.Endpoints[1]
	if a.SignatureHeader != DefaultSignatureHeader || a.MaxBodySize != DefaultMaxBodySize || a.Event != "" {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if b.Event != hook.NodeReinstall || b.SignatureHeader != "X-Sig" || b.MaxBodySize != 64*1024 {
		t.Fatalf("endpoint b = %+v", b)
	}
}

func TestFromGlobalConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		ep   config.WebhookEndpoint
	}{
		{"no secret", config.WebhookEndpoint{Path: "/a"}},
		{"bad event", config.WebhookEndpoint{Path: "/a", Secret: "s", Event: "node_exploded"}},
		{"bad size", config.WebhookEndpoint{Path: "/a", Secret: "s", MaxBodySize: "huge"}},
		{"zero size", config.WebhookEndpoint{Path: "/a", Secret: "s", MaxBodySize: "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromGlobalConfig(&config.WebhooksConfig{Listen: ":1", Endpoints: []config.WebhookEndpoint{tt.ep}})
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := FromGlobalConfig(nil); err == nil {
		t.Fatal("nil config accepted")
	}
}
