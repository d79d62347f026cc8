package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv_SetsMissingVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# dev settings\nBASE_URL=http://localhost:9999\nexport JWT_SECRET=\"s e c r e t\"\nDEMO_PASSWORD='p w'\nBROKEN LINE\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	for _, key := range []string{"BASE_URL", "JWT_SECRET", "DEMO_PASSWORD"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}

	if got := os.Getenv("BASE_URL"); got != "http://localhost:9999" {
		t.Fatalf("BASE_URL = %q, want %q", got, "http://localhost:9999")
	}
	if got := os.Getenv("JWT_SECRET"); got != "s e c r e t" {
		t.Fatalf("JWT_SECRET = %q, want %q", got, "s e c r e t")
	}
	if got := os.Getenv("DEMO_PASSWORD"); got != "p w" {
		t.Fatalf("DEMO_PASSWORD = %q, want %q", got, "p w")
	}
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BASE_URL=from_file\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("BASE_URL", "from_env")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if got := os.Getenv("BASE_URL"); got != "from_env" {
		t.Fatalf("BASE_URL = %q, want %q", got, "from_env")
	}
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
}
