package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	valid := &PublicPageData{Username: "testuser"}
	if err := valid.Validate(); err != nil {
		t.Errorf("usernameがあれば有効であるべき: %v", err)
	}

	var nilData *PublicPageData
	if err := nilData.Validate(); !errors.Is(err, ErrMalformedPageData) {
		t.Errorf("nilはErrMalformedPageDataを返すべき: %v", err)
	}

	empty := &PublicPageData{}
	if err := empty.Validate(); !errors.Is(err, ErrMalformedPageData) {
		t.Errorf("username空はErrMalformedPageDataを返すべき: %v", err)
	}
}

func TestPublicPageData_UnmarshalContract(t *testing.T) {
	raw := `{
		"username": "testuser",
		"displayName": "Test User",
		"avatarUrl": "https://cdn.example/a.png",
		"bio": "hi",
		"page": {"layout": "LINKS_LIST", "theme": "classic", "published": true, "updatedAt": "2025-01-01T00:00:00Z"},
		"links": [{"title": "Site", "url": "https://example.com", "active": true, "position": 1}]
	}`

	var data PublicPageData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if data.Username != "testuser" || data.DisplayName != "Test User" {
		t.Errorf("基本フィールドが読めていない: %+v", data)
	}
	if data.Page.Layout != PageLayoutLinksList {
		t.Errorf("Layout = %q", data.Page.Layout)
	}
	if !data.Page.Published {
		t.Error("published = false")
	}
	if len(data.Links) != 1 || data.Links[0].URL != "https://example.com" {
		t.Errorf("Links = %+v", data.Links)
	}
}

func TestUpstreamStatusError(t *testing.T) {
	err := &UpstreamStatusError{Status: 503}
	var target *UpstreamStatusError
	if !errors.As(err, &target) || target.Status != 503 {
		t.Error("errors.Asでステータスを取り出せるべき")
	}
}
