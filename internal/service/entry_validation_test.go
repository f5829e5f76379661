package service

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		slug    string
		wantErr error
	}{
		{name: "simple", slug: "hello", wantErr: nil},
		{name: "hyphenated", slug: "hello-world-2024", wantErr: nil},
		{name: "numeric", slug: "42", wantErr: nil},
		{name: "empty", slug: "", wantErr: ErrInvalidSlug},
		{name: "uppercase", slug: "Hello", wantErr: ErrInvalidSlug},
		{name: "leading hyphen", slug: "-hello", wantErr: ErrInvalidSlug},
		{name: "trailing hyphen", slug: "hello-", wantErr: ErrInvalidSlug},
		{name: "double hyphen", slug: "hello--world", wantErr: ErrInvalidSlug},
		{name: "underscore", slug: "hello_world", wantErr: ErrInvalidSlug},
		{name: "spaces", slug: "hello world", wantErr: ErrInvalidSlug},
		{name: "unicode", slug: "héllo", wantErr: ErrInvalidSlug},
		{name: "too long", slug: strings.Repeat("a", 121), wantErr: ErrInvalidSlug},
		{name: "max length ok", slug: strings.Repeat("a", 120), wantErr: nil},
		{name: "reserved api", slug: "api", wantErr: ErrSlugReserved},
		{name: "reserved admin", slug: "admin", wantErr: ErrSlugReserved},
		{name: "reserved metrics", slug: "metrics", wantErr: ErrSlugReserved},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSlug(tt.slug)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSlug(%q) = %v, want %v", tt.slug, err, tt.wantErr)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "plain", title: "Hello World", want: "hello-world"},
		{name: "punctuation collapsed", title: "Hello, World!", want: "hello-world"},
		{name: "already a slug", title: "hello-world", want: "hello-world"},
		{name: "numbers kept", title: "Top 10 Posts of 2024", want: "top-10-posts-of-2024"},
		{name: "leading and trailing junk", title: "  --Hello--  ", want: "hello"},
		{name: "unicode dropped", title: "Café Culture", want: "caf-culture"},
		{name: "empty", title: "", want: ""},
		{name: "only punctuation", title: "!!!", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Slugify(tt.title); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestSlugify_Truncates(t *testing.T) {
	t.Parallel()

	got := Slugify(strings.Repeat("word ", 100))
	if len(got) > maxSlugLength {
		t.Errorf("slug length = %d, want at most %d", len(got), maxSlugLength)
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("slug %q has trailing hyphen after truncation", got)
	}
	if err := ValidateSlug(got); err != nil {
		t.Errorf("truncated slug %q fails validation: %v", got, err)
	}
}
