package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.UserID = "user-123"
	cfg.Firestore.ProjectID = "vigil-prod"
	cfg.Storage.Bucket = "vigil-media"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.UserID != "user-123" {
		t.Errorf("UserID = %q, want %q", loaded.UserID, "user-123")
	}
	if loaded.Firestore.ProjectID != "vigil-prod" {
		t.Errorf("Firestore.ProjectID = %q, want %q", loaded.Firestore.ProjectID, "vigil-prod")
	}
	if loaded.Storage.Bucket != "vigil-media" {
		t.Errorf("Storage.Bucket = %q, want %q", loaded.Storage.Bucket, "vigil-media")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadFillsProbeDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("user_id = \"u1\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Network.ProbeAddr != "firestore.googleapis.com:443" {
		t.Errorf("ProbeAddr = %q, want default", cfg.Network.ProbeAddr)
	}
	if cfg.Network.ProbeIntervalSecs != 15 {
		t.Errorf("ProbeIntervalSecs = %d, want 15", cfg.Network.ProbeIntervalSecs)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
