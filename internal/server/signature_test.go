package server

import "testing"

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	secret := "test-secret-at-least-32-chars-long-here"

	tests := []struct {
		name      string
		signature string
		secret    string
		want      bool
	}{
		{"valid", Sign(payload, secret), secret, true},
		{"wrong secret", Sign(payload, "wrong-secret"), secret, false},
		{"missing prefix", Sign(payload, secret)[len(SignaturePrefix):], secret, false},
		{"sha1 prefix", "sha1=" + Sign(payload, secret)[len(SignaturePrefix):], secret, false},
		{"empty signature", "", secret, false},
		{"empty secret", Sign(payload, ""), "", false},
		{"extended digest", Sign(payload, secret) + "00", secret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(payload, tt.signature, tt.secret); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}
