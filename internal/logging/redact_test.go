package logging

import "testing"

func TestRedactValue(t *testing.T) {
	if got := RedactValue("sk-abcdef123456"); got != "****3456" {
		t.Fatalf("expected masked value, got %s", got)
	}
	if got := RedactValue("Bearer sk-abcdef123456"); got != "Bearer ****3456" {
		t.Fatalf("expected masked bearer, got %s", got)
	}
	if got := RedactValue("abc"); got != "****" {
		t.Fatalf("short values should be fully masked, got %s", got)
	}
}

func TestRedactAnyMapsSecretKeys(t *testing.T) {
	in := map[string]string{
		"API_KEY": "sk-abcdef123456",
		"PATH":    "/usr/bin",
	}
	out, ok := RedactAny(in).(map[string]string)
	if !ok {
		t.Fatalf("expected map[string]string back")
	}
	if out["API_KEY"] != "****3456" {
		t.Fatalf("secret key not masked: %s", out["API_KEY"])
	}
	if out["PATH"] != "/usr/bin" {
		t.Fatalf("non-secret key altered: %s", out["PATH"])
	}
}

func TestRedactAnyNested(t *testing.T) {
	in := map[string]any{
		"env": map[string]any{"token": "deadbeefcafe"},
	}
	out := RedactAny(in).(map[string]any)
	env := out["env"].(map[string]any)
	if env["token"] != "****cafe" {
		t.Fatalf("nested secret not masked: %v", env["token"])
	}
}
