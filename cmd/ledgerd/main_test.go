package main

import "testing"

func TestContainsWildcard(t *testing.T) {
	if containsWildcard([]string{"http://localhost:3000"}) {
		t.Error("no wildcard expected")
	}
	if !containsWildcard([]string{"http://a", " * "}) {
		t.Error("wildcard not detected")
	}
}
