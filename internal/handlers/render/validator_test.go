package render

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Custom(t *testing.T) {
	type request struct {
		Username     string `json:"username" validate:"required,min=3,max=50,username"`
		Password     string `json:"password" validate:"required,min=8,max=128,password"`
		ProfileImage string `json:"profile_image" validate:"omitempty,max=255,http_url"`
	}

	tests := []struct {
		name    string
		value   request
		invalid []string
	}{
		{
			name:  "valid",
			value: request{Username: "bob_1", Password: "password1", ProfileImage: "https://example.com/a.png"},
		},
		{
			name:  "empty image allowed",
			value: request{Username: "bob", Password: "password1"},
		},
		{
			name:    "username with bad chars",
			value:   request{Username: "bob-1!", Password: "password1"},
			invalid: []string{"username"},
		},
		{
			name:    "username too short",
			value:   request{Username: "bo", Password: "password1"},
			invalid: []string{"username"},
		},
		{
			name:    "password without digit",
			value:   request{Username: "bob", Password: "password"},
			invalid: []string{"password"},
		},
		{
			name:    "password without letter",
			value:   request{Username: "bob", Password: "12345678"},
			invalid: []string{"password"},
		},
		{
			name:    "image not url",
			value:   request{Username: "bob", Password: "password1", ProfileImage: "not a url"},
			invalid: []string{"profile_image"},
		},
		{
			name:    "image too long",
			value:   request{Username: "bob", Password: "password1", ProfileImage: "https://example.com/" + strings.Repeat("a", 250)},
			invalid: []string{"profile_image"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			err := Validate(w, tt.value)

			if len(tt.invalid) == 0 {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			for _, field := range tt.invalid {
				assert.Contains(t, w.Body.String(), `"`+field+`"`, "invalid field has to be named by json tag")
			}
		})
	}
}

func TestValidator_ProfileImage(t *testing.T) {
	type request struct {
		ProfileImage *string `json:"profile_image" validate:"omitnil,profile_image"`
	}

	ptr := func(s string) *string { return &s }

	tests := []struct {
		name  string
		value *string
		valid bool
	}{
		{"absent", nil, true},
		{"empty clears image", ptr(""), true},
		{"https", ptr("https://example.com/me.png"), true},
		{"http", ptr("http://example.com/me.png"), true},
		{"ftp", ptr("ftp://example.com/me.png"), false},
		{"no host", ptr("https://"), false},
		{"relative", ptr("/me.png"), false},
		{"too long", ptr("https://example.com/" + strings.Repeat("a", 240)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			err := Validate(w, request{ProfileImage: tt.value})

			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.JSONEq(t, `{
				"error": "validation_failed",
				"message": "Request validation failed",
				"fields": {"profile_image": "Invalid URL, http or https expected (maximum 255 characters)"}
			}`, w.Body.String())
		})
	}
}
