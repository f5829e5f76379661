package notify

import "testing"

func TestValidateTargetURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"valid https", "https://hooks.example.com/inkwell", nil},
		{"http rejected", "http://hooks.example.com/inkwell", ErrInvalidScheme},
		{"no scheme", "hooks.example.com", ErrInvalidScheme},
		{"localhost", "https://localhost/hook", ErrLocalhostBlocked},
		{"localhost subdomain", "https://foo.localhost/hook", ErrLocalhostBlocked},
		{"local tld", "https://printer.local/hook", ErrLocalhostBlocked},
		{"loopback ip", "https://127.0.0.1/hook", ErrLocalhostBlocked},
		{"empty host", "https:///hook", ErrEmptyHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTargetURL(tt.url)
			if err != tt.wantErr {
				t.Errorf("ValidateTargetURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestExtractHost(t *testing.T) {
	if got := ExtractHost("https://hooks.example.com/secret-path?token=x"); got != "hooks.example.com" {
		t.Errorf("ExtractHost = %q, want hooks.example.com", got)
	}
}
