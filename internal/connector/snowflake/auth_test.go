package snowflake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/porticoapi/portico/internal/connector"
)

func writeKeyFile(t *testing.T, blockType string, der []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestLoadPrivateKey(t *testing.T) {
	key := testKey(t)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal PKCS8: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"pkcs1", writeKeyFile(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key)), ""},
		{"pkcs8", writeKeyFile(t, "PRIVATE KEY", pkcs8), ""},
		{"missing file", "/nonexistent/key.pem", "read private key file"},
		{"wrong block", writeKeyFile(t, "EC PRIVATE KEY", []byte("x")), "unsupported PEM block type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loaded, err := loadPrivateKey(tt.path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadPrivateKey: %v", err)
			}
			if loaded.N.Cmp(key.N) != 0 {
				t.Error("loaded key does not match")
			}
		})
	}
}

func TestLoadPrivateKeyNotPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	os.WriteFile(path, []byte("plain text"), 0600)
	if _, err := loadPrivateKey(path); err == nil || !strings.Contains(err.Error(), "no PEM block") {
		t.Errorf("got %v", err)
	}
}

func TestBuildJWTDSN(t *testing.T) {
	der, _ := x509.MarshalPKCS8PrivateKey(testKey(t))
	keyPath := writeKeyFile(t, "PRIVATE KEY", der)

	dsn, err := buildJWTDSN("reporter@acme/warehouse/PUBLIC?warehouse=WH", keyPath)
	if err != nil {
		t.Fatalf("buildJWTDSN: %v", err)
	}
	if !strings.Contains(strings.ToLower(dsn), "authenticator=snowflake_jwt") {
		t.Errorf("DSN missing jwt authenticator: %s", dsn)
	}
	if !strings.Contains(dsn, "reporter") {
		t.Errorf("DSN lost the user: %s", dsn)
	}

	if _, err := buildJWTDSN("reporter@acme/warehouse", "/nonexistent/key.pem"); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestSnowflakeIsReadOnly(t *testing.T) {
	if New().InsertStyle() != connector.InsertUnsupported {
		t.Error("snowflake sources must not accept inserts")
	}
	if got := mapSnowflakeType("variant"); got != connector.TypeJSON {
		t.Errorf("variant maps to %q", got)
	}
}
