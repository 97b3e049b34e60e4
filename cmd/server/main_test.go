package main

import (
	"strings"
	"testing"

	"github.com/dededemahendra/crm/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.Config{
		"short":         {AuthSecret: "short"},
		"repeated":      {AuthSecret: strings.Repeat("ab", 20)},
		"sample":        {AuthSecret: "changeme-changeme-changeme-change"},
		"wildcard cors": {AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "*", DatabaseURL: "postgres://ledger@db/ledger"},
	}
	for name, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("%s: expected weak security config to be rejected", name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "https://ledger.example.com"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
