package jobs

import (
	"errors"
	"strings"
	"testing"
)

func TestParseLocatorFileWithHeader(t *testing.T) {
	input := "url,title\nhttps://example.com/a,First\nhttps://example.com/b,Second\n"

	urls, err := parseLocatorFile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseLocatorFile returned error: %v", err)
	}
	if len(urls) != 2 || urls[0] != "https://example.com/a" || urls[1] != "https://example.com/b" {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestParseLocatorFileWithoutHeader(t *testing.T) {
	input := "https://example.com/a\nhttps://example.com/b\n"

	urls, err := parseLocatorFile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseLocatorFile returned error: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestParseLocatorFileInvalidRow(t *testing.T) {
	input := "https://example.com/a\nnot-a-url\n"

	_, err := parseLocatorFile(strings.NewReader(input))
	if err == nil {
		t.Fatal("expected error for invalid row")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeInvalidInput {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseLocatorFileSkipsEmptyRows(t *testing.T) {
	input := "url\n\nhttps://example.com/a\n\n"

	urls, err := parseLocatorFile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseLocatorFile returned error: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://example.com/a" {
		t.Fatalf("unexpected urls: %v", urls)
	}
}
