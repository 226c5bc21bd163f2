package encryption

import (
	"testing"

	"github.com/spf13/afero"

	"offsync-go/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		typ     string
		want    string
		wantErr bool
	}{
		{"", "*encryption.AgeEncryptor", false},
		{"age", "*encryption.AgeEncryptor", false},
		{"test", "*encryption.TestEncryptor", false},
		{"rot13", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			e, err := NewEncryptorFromConfig(afero.NewMemMapFs(), config.EncryptionConfig{Type: tt.typ})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEncryptorFromConfig() error = %v", err)
			}
			if got := typeName(e); got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *AgeEncryptor:
		return "*encryption.AgeEncryptor"
	case *TestEncryptor:
		return "*encryption.TestEncryptor"
	}
	return "unknown"
}
