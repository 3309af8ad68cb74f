// Package security provides webhook signing secret resolution,
// including graceful rotation where the previous secret stays
// acceptable for a bounded window.
package security

import (
	"fmt"
	"strings"
	"time"
)

// SecretSource yields the set of signing secrets a payload may be
// verified against. Order matters: the first entry is the active
// secret, the rest are still-accepted older secrets.
type SecretSource interface {
	Secrets(at time.Time) []string
}

type StaticSecretSource struct {
	Secret string
}

func NewStaticSecretSource(secret string) (StaticSecretSource, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return StaticSecretSource{}, fmt.Errorf("security: webhook secret is required")
	}
	return StaticSecretSource{Secret: secret}, nil
}

func (s StaticSecretSource) Secrets(time.Time) []string {
	if strings.TrimSpace(s.Secret) == "" {
		return nil
	}
	return []string{strings.TrimSpace(s.Secret)}
}

// RotationWindow gates when the previous secret is still accepted.
type RotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w RotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

// RotatingSecretSource serves the active secret plus, inside the
// rotation window, the previous one. Providers sign with exactly one
// secret at a time; during rotation deliveries signed with either must
// verify.
type RotatingSecretSource struct {
	Active   string
	Previous string
	Window   RotationWindow
}

func NewRotatingSecretSource(active, previous string, window RotationWindow) (RotatingSecretSource, error) {
	active = strings.TrimSpace(active)
	if active == "" {
		return RotatingSecretSource{}, fmt.Errorf("security: active webhook secret is required")
	}
	return RotatingSecretSource{
		Active:   active,
		Previous: strings.TrimSpace(previous),
		Window:   window,
	}, nil
}

func (s RotatingSecretSource) Secrets(at time.Time) []string {
	secrets := []string{s.Active}
	if s.Previous != "" && s.Previous != s.Active && s.Window.Allows(at) {
		secrets = append(secrets, s.Previous)
	}
	return secrets
}
