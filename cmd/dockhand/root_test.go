package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Public URL Tests
// =============================================================================

func TestPublicURL_DefaultListenPort(t *testing.T) {
	a := &app{config: &Config{Proxy: ProxyConfig{ListenPort: 80}}}
	assert.Equal(t, "http://203.0.113.10/", a.publicURL("203.0.113.10", "/"))
}

func TestPublicURL_CustomListenPort(t *testing.T) {
	a := &app{config: &Config{Proxy: ProxyConfig{ListenPort: 8080}}}
	assert.Equal(t, "http://203.0.113.10:8080/healthz",
		a.publicURL("203.0.113.10", "/healthz"))
}

func TestPublicURL_ZeroFallsBackToDefault(t *testing.T) {
	a := &app{config: &Config{Proxy: ProxyConfig{}}}
	assert.Equal(t, "http://h/", a.publicURL("h", "/"))
}
